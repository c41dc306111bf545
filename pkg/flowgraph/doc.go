// Package flowgraph assembles a pregelflow runtime: a checkpoint store, a
// registry of compiled graphs and a runner, configured from a config.Config.
//
// A typical program loads YAML graph definitions and runs them by name:
//
//	rt, err := flowgraph.New(ctx, config.Default(), loader.NewRegistry())
//	if err != nil { ... }
//	defer rt.Close()
//	if err := rt.LoadDefinitions(ctx, "graphs/counter.yaml"); err != nil { ... }
//	resp, err := rt.Run(ctx, &flowgraph.RunRequest{Graph: "counter", ThreadID: "t1"})
package flowgraph
