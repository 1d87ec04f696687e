/*
Package resilience provides a circuit breaker for calls into dependencies
that can wedge.

# Usage

	breaker := resilience.New("extension-link", resilience.Settings{
		Failures: 3,
		Cooldown: 5 * time.Second,
		OnStateChange: func(name string, from, to resilience.State) {
			logger.Warn("breaker state change", zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})

	err := breaker.Do(func() error {
		return enqueue(frame)
	})

# States

	Closed --[failures]-> Open --[cooldown]-> Half-Open --[trial successes]-> Closed
	                                              |
	                                         [failure]
	                                              v
	                                            Open

Reset forces the circuit closed, used when the dependency is known to be
fresh again (for example a new connection replaced a dead one).
*/
package resilience
