// Package runtime wires storage, config, and the brook services into a
// single-node Brook instance. It exposes Open/Close, a health check and the
// read/append/recover operations used by the CLI.
//
// Example:
//
//	cfg := config.Default()
//	cfg.DataDir = "./data"
//	rt, _ := runtime.Open(ctx, runtime.Options{Config: cfg})
//	defer rt.Close()
//	key, _ := brook.NewKey("orders", "o-1")
//	head, _ := rt.AppendEvents(ctx, key, events, nil)
//	for pe, err := range rt.ReadRange(ctx, key, nil, nil) {
//	    ...
//	}
package runtime
