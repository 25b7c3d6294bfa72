package labs

import (
	"fmt"
	"time"

	"rtsync/internal/manifest"
)

var registry = []Lab{
	{
		Name:     "basic-queue",
		Summary:  "one producer, one slow consumer, non-blocking sends drop on overflow",
		Defaults: Params{Duration: time.Second, Period: 10 * time.Millisecond, Capacity: 5},
		body:     basicQueue,
	},
	{
		Name:     "producer-consumer",
		Summary:  "several producers and consumers share one queue, output guarded by a mutex",
		Defaults: Params{Duration: time.Second, Period: 5 * time.Millisecond, Capacity: 10, Producers: 3, Consumers: 2},
		body:     producerConsumer,
	},
	{
		Name:     "queue-set",
		Summary:  "one dispatcher selects over sensor, user and network queues and a timer semaphore",
		Defaults: Params{Duration: time.Second, Period: 5 * time.Millisecond},
		body:     queueSet,
	},
	{
		Name:     "binary-semaphore",
		Summary:  "an interrupt gives a binary semaphore, a handler task takes it",
		Defaults: Params{Duration: time.Second, Period: 5 * time.Millisecond},
		body:     binarySemaphore,
	},
	{
		Name:     "counting-semaphore",
		Summary:  "workers share a fixed pool of licenses",
		Defaults: Params{Duration: time.Second, Period: 5 * time.Millisecond, Producers: 5, MaxCount: 3},
		body:     countingSemaphore,
	},
	{
		Name:     "mutex",
		Summary:  "tasks of different priority update a shared counter under a mutex",
		Defaults: Params{Duration: 500 * time.Millisecond, Period: time.Millisecond, Producers: 4},
		body:     mutexLab,
	},
	{
		Name:     "event-groups",
		Summary:  "subsystems report readiness through event bits, a monitor waits for all of them",
		Defaults: Params{Duration: time.Second, Period: 5 * time.Millisecond},
		body:     eventGroups,
	},
}

// All returns every lab in presentation order.
func All() []Lab {
	out := make([]Lab, len(registry))
	copy(out, registry)
	return out
}

// Lookup finds a lab by name, ignoring case and Unicode normalization
// differences.
func Lookup(name string) (Lab, bool) {
	key := manifest.NormalizeName(name)
	for _, lab := range registry {
		if lab.Name == key {
			return lab, true
		}
	}
	return Lab{}, false
}

// Select resolves names into labs. With no names it returns the manifest's
// default selection, or every lab not disabled in the manifest.
func Select(names []string, m *manifest.Manifest) ([]Lab, error) {
	if len(names) == 0 && m != nil {
		names = m.Run.Labs
	}
	if len(names) == 0 {
		out := make([]Lab, 0, len(registry))
		for _, lab := range registry {
			if cfg, ok := m.Lab(lab.Name); ok && cfg.Disabled {
				continue
			}
			out = append(out, lab)
		}
		return out, nil
	}
	out := make([]Lab, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		lab, ok := Lookup(name)
		if !ok {
			return nil, fmt.Errorf("unknown lab %q", name)
		}
		if seen[lab.Name] {
			continue
		}
		seen[lab.Name] = true
		out = append(out, lab)
	}
	return out, nil
}
