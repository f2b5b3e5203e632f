package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/hashicorp/go-hclog"

	"github.com/flant/compliance-sync/consts"
	"github.com/flant/compliance-sync/model"
)

// BreakerState lets the daemon see whether the vendor breaker fails fast.
// While it does, consumption pauses so the failed-event backlog does not
// grow unboundedly; it resumes as soon as the breaker closes.
type BreakerState interface {
	Open() bool
}

type DaemonConfig struct {
	Endpoints      []string
	GroupID        string
	DirectoryTopic string
	TeamTopic      string
	Workers        int
}

// Daemon consumes the two change topics. Messages are sharded by event key
// (username or team id) onto a fixed worker, which preserves ordering within
// one key; cross-key ordering is not guaranteed and nothing downstream
// assumes it. Offsets are committed at the per-partition low watermark of
// processed messages, so delivery is at-least-once and the handlers are
// idempotent.
type Daemon struct {
	consumer  *kafka.Consumer
	processor *Processor
	breaker   BreakerState
	stats     *Stats
	cfg       DaemonConfig
	logger    hclog.Logger

	tracker  *commitTracker
	shards   []chan job
	wg       sync.WaitGroup
	stopC    chan struct{}
	stopOnce sync.Once
}

// commitTracker keeps the committed offset of every partition at its low
// watermark: the lowest offset whose predecessors were all processed. Shard
// workers finish out of order, and a bare per-message commit from a fast
// worker would cover an earlier offset still failing in a slow one, silently
// dropping it. A failed message never completes, so its partition's commit
// position stalls below it and redelivery happens on rebalance or restart.
type commitTracker struct {
	mu         sync.Mutex
	partitions map[topicPartition]*partitionProgress
}

type topicPartition struct {
	topic     string
	partition int32
}

type partitionProgress struct {
	next int64              // lowest offset not yet processed
	done map[int64]struct{} // processed offsets above next
}

func newCommitTracker() *commitTracker {
	return &commitTracker{partitions: map[topicPartition]*partitionProgress{}}
}

// observe registers a freshly consumed message. The events channel delivers
// a partition in order, so the first observed offset is the partition's low
// watermark.
func (t *commitTracker) observe(msg *kafka.Message) {
	key := trackerKey(msg)
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, found := t.partitions[key]; !found {
		t.partitions[key] = &partitionProgress{
			next: int64(msg.TopicPartition.Offset),
			done: map[int64]struct{}{},
		}
	}
}

// complete marks one message processed and reports the partition's new
// commit position. advanced is false while an earlier offset is still
// outstanding; the caller must not commit then.
func (t *commitTracker) complete(msg *kafka.Message) (kafka.TopicPartition, bool) {
	key := trackerKey(msg)
	t.mu.Lock()
	defer t.mu.Unlock()
	progress, found := t.partitions[key]
	if !found {
		return kafka.TopicPartition{}, false
	}
	progress.done[int64(msg.TopicPartition.Offset)] = struct{}{}
	advanced := false
	for {
		if _, ok := progress.done[progress.next]; !ok {
			break
		}
		delete(progress.done, progress.next)
		progress.next++
		advanced = true
	}
	if !advanced {
		return kafka.TopicPartition{}, false
	}
	tp := msg.TopicPartition
	tp.Offset = kafka.Offset(progress.next)
	return tp, true
}

func trackerKey(msg *kafka.Message) topicPartition {
	key := topicPartition{partition: msg.TopicPartition.Partition}
	if msg.TopicPartition.Topic != nil {
		key.topic = *msg.TopicPartition.Topic
	}
	return key
}

type job struct {
	msg       *kafka.Message
	directory *model.DirectoryEvent
	team      *model.TeamEvent
}

func NewDaemon(cfg DaemonConfig, processor *Processor, breaker BreakerState, stats *Stats, parentLogger hclog.Logger) (*Daemon, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	consumer, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":        strings.Join(cfg.Endpoints, ","),
		"group.id":                 cfg.GroupID,
		"auto.offset.reset":        "earliest",
		"enable.auto.commit":       false,
		"go.events.channel.enable": true,
	})
	if err != nil {
		return nil, fmt.Errorf("creating consumer: %w", err)
	}
	return &Daemon{
		consumer:  consumer,
		processor: processor,
		breaker:   breaker,
		stats:     stats,
		cfg:       cfg,
		logger:    parentLogger.Named("daemon"),
		tracker:   newCommitTracker(),
		stopC:     make(chan struct{}),
	}, nil
}

func (d *Daemon) Run(ctx context.Context) error {
	if err := d.processor.Ready(); err != nil {
		return err
	}
	err := d.consumer.SubscribeTopics([]string{d.cfg.DirectoryTopic, d.cfg.TeamTopic}, nil)
	if err != nil {
		return fmt.Errorf("subscribing: %w", err)
	}
	d.logger.Info("consuming", "topics",
		[]string{d.cfg.DirectoryTopic, d.cfg.TeamTopic}, "workers", d.cfg.Workers)

	d.shards = make([]chan job, d.cfg.Workers)
	for i := range d.shards {
		d.shards[i] = make(chan job, 16)
		d.wg.Add(1)
		go d.worker(ctx, d.shards[i])
	}
	defer func() {
		for _, shard := range d.shards {
			close(shard)
		}
		d.wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			d.consumer.Unsubscribe() //nolint:errcheck
			return ctx.Err()
		case <-d.stopC:
			d.consumer.Unsubscribe() //nolint:errcheck
			return nil
		case ev := <-d.consumer.Events():
			switch e := ev.(type) {
			case *kafka.Message:
				d.dispatch(ctx, e)
			default:
				d.logger.Debug(fmt.Sprintf("not handled event %s", e.String()))
			}
		}
	}
}

// Stop is safe to call more than once and after Run has returned.
func (d *Daemon) Stop() {
	d.stopOnce.Do(func() { close(d.stopC) })
}

func (d *Daemon) dispatch(ctx context.Context, msg *kafka.Message) {
	for d.breaker.Open() {
		d.logger.Warn("vendor breaker open, consumption paused")
		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
		}
	}

	d.tracker.observe(msg)

	j, key, err := d.decode(msg)
	if err != nil {
		// poison: acknowledged and counted, never reprocessed
		d.stats.Poison.Inc()
		d.logger.Error(fmt.Sprintf("poison message at %s: %s", msg.TopicPartition, err.Error()))
		d.commitProcessed(msg)
		return
	}
	d.shards[shardFor(key, len(d.shards))] <- j
}

func (d *Daemon) decode(msg *kafka.Message) (job, string, error) {
	topic := ""
	if msg.TopicPartition.Topic != nil {
		topic = *msg.TopicPartition.Topic
	}
	switch topic {
	case d.cfg.DirectoryTopic:
		var ev model.DirectoryEvent
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			return job{}, "", fmt.Errorf("%w: %s", consts.ErrPoisonMessage, err.Error())
		}
		if ev.Username == "" {
			return job{}, "", fmt.Errorf("%w: directory event without username", consts.ErrPoisonMessage)
		}
		return job{msg: msg, directory: &ev}, ev.Username, nil
	case d.cfg.TeamTopic:
		var ev model.TeamEvent
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			return job{}, "", fmt.Errorf("%w: %s", consts.ErrPoisonMessage, err.Error())
		}
		if ev.TeamID == 0 {
			return job{}, "", fmt.Errorf("%w: team event without team id", consts.ErrPoisonMessage)
		}
		return job{msg: msg, team: &ev}, fmt.Sprintf("team/%d", ev.TeamID), nil
	}
	return job{}, "", fmt.Errorf("%w: unexpected topic %q", consts.ErrPoisonMessage, topic)
}

func (d *Daemon) worker(ctx context.Context, jobs <-chan job) {
	defer d.wg.Done()
	for j := range jobs {
		var err error
		if j.directory != nil {
			err = d.processor.HandleDirectoryEvent(ctx, *j.directory)
		} else {
			err = d.processor.HandleTeamEvent(ctx, *j.team)
		}
		if err != nil {
			// never completed: the partition's commit position stalls below
			// this offset, redelivery happens on rebalance or restart
			d.logger.Error(fmt.Sprintf("processing failed, will be redelivered: %s", err.Error()))
			continue
		}
		d.commitProcessed(j.msg)
	}
}

// commitProcessed advances the partition's committed offset to the low
// watermark, if this message moved it.
func (d *Daemon) commitProcessed(msg *kafka.Message) {
	tp, advanced := d.tracker.complete(msg)
	if !advanced {
		return
	}
	if _, err := d.consumer.CommitOffsets([]kafka.TopicPartition{tp}); err != nil {
		d.logger.Error(fmt.Sprintf("committing offset: %s", err.Error()))
	}
}

func shardFor(key string, shards int) int {
	h := fnv.New32a()
	h.Write([]byte(key)) //nolint:errcheck
	return int(h.Sum32()) % shards
}
