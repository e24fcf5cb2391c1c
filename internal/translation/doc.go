// Package translation turns an unreliable set of proxies plus a rate-limited
// translation backend into a translate(text) call that only fails when its
// context is cancelled. Each request walks the working proxies in order,
// stops at the first success and, when every proxy failed, waits a fixed
// backoff before starting the next cycle. Backends for Google Translate,
// OpenAI and Gemini are provided.
package translation
