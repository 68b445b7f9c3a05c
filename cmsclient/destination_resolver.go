// Copyright (c) FluxCMS
// SPDX-License-Identifier: Apache-2.0

package cmsclient

import (
	"strings"
	"sync"

	"github.com/fluxcms/gocms/cmserr"
	"github.com/fluxcms/gocms/command"
)

// destinationResolver turns destination name strings ("queue://orders",
// "topic://news", or a bare name defaulting to queue) into
// command.Destination values, caching the parse per Session so repeated
// lookups of the same name are free (§3, §4.E).
type destinationResolver struct {
	mu    sync.RWMutex
	cache map[string]command.Destination
}

func newDestinationResolver() *destinationResolver {
	return &destinationResolver{cache: make(map[string]command.Destination)}
}

func (r *destinationResolver) resolve(name string) (command.Destination, error) {
	if name == "" {
		return command.Destination{}, cmserr.IllegalArgument("destination name must not be empty")
	}

	r.mu.RLock()
	d, ok := r.cache[name]
	r.mu.RUnlock()
	if ok {
		return d, nil
	}

	d = parseDestinationName(name)

	r.mu.Lock()
	r.cache[name] = d
	r.mu.Unlock()
	return d, nil
}

func parseDestinationName(name string) command.Destination {
	parts := strings.SplitN(name, "://", 2)
	if len(parts) != 2 {
		return command.NewQueue(name)
	}
	switch parts[0] {
	case "topic":
		return command.NewTopic(parts[1])
	case "temp-queue":
		return command.NewTemporaryQueue(parts[1])
	case "temp-topic":
		return command.NewTemporaryTopic(parts[1])
	case "queue":
		return command.NewQueue(parts[1])
	default:
		return command.NewQueue(parts[1])
	}
}
