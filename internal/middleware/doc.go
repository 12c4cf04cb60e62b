// Package middleware holds the hooks the engine calls around downloads,
// item processing and the spider lifecycle.
//
// Hooks are registered on a Manager at one of five points. Request and
// response hooks run in registration order and the first one that
// returns a value short-circuits the rest: a *model.Request is scheduled
// in place of the current one, a *model.Response skips (or replaces) the
// download. Item hooks form a chain where a nil item drops the item.
//
// The package also ships ready-made hooks: SiteHeaders applies per-host
// configuration, Robots enforces robots.txt and StatusFilter discards
// responses with unwanted status codes.
package middleware
