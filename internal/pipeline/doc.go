// Package pipeline processes the items a crawl extracts.
//
// A Pipeline runs its Steps in order on every item. A step may replace
// the item, drop it (by returning a nil item or an error wrapping
// ErrDropItem) or fail. Pipeline.Process has the shape of a middleware
// item hook, so a pipeline is registered on the engine's middleware
// manager like any other hook:
//
//	p := pipeline.New(pipeline.WithLogger(logger))
//	p.AddSteps(pipeline.NewRequireFieldsStep("url"), pipeline.NewJSONLinesStep(f))
//	mw.UseItem(p.Process)
package pipeline
