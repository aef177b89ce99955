// Package geocode resolves venue names to coordinates through Nominatim.
//
// Every lookup goes through a Cache keyed by "venue|city". Failed lookups are cached
// as an explicit no-result entry, so a venue that cannot be found is asked about once
// and then answered locally until the cache is cleared. Outbound requests share one
// rate limiter per Client.
package geocode
