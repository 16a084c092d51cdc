/*
Package resilience provides a circuit breaker for calls to remote services.

The gateway REST client wraps every request in a Breaker so that a kernel
gateway that went away fails fast instead of stacking up retries.

	Closed --[Threshold consecutive failures]-> Open --[Cooldown]-> Half-Open
	Half-Open --[trial succeeds]-> Closed
	Half-Open --[trial fails]-> Open
*/
package resilience
