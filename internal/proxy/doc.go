// Package proxy loads the candidate proxy list, probes every candidate once
// against a liveness URL and exposes the working subset as an immutable Pool.
// Proxies are never revalidated within a run; failures seen later are handled
// by the translation client's rotation, not by mutating the pool.
package proxy
