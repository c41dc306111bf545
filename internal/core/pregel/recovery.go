package pregel

import (
	"github.com/flowgraph/pregelflow/internal/core/checkpoint"
	"github.com/flowgraph/pregelflow/internal/core/graph"
)

// recovered is the durable progress of a superstep that did not finish: the
// output of every node whose writes reached the store before the run stopped.
type recovered map[int]graph.Output

// recoverWrites groups pending writes by writer. Only writers that recorded a
// control write completed; anything else is ignored and the node runs again.
func recoverWrites(g *graph.CompiledGraph, writes []checkpoint.PendingWrite) recovered {
	byWriter := make(map[string][]checkpoint.PendingWrite)
	for _, w := range writes {
		byWriter[w.WriterID] = append(byWriter[w.WriterID], w)
	}
	out := make(recovered)
	for id, ws := range byWriter {
		i, ok := g.NodeIndex(id)
		if !ok {
			continue
		}
		var (
			output   graph.Output
			finished bool
		)
		for _, w := range ws {
			if w.Channel == checkpoint.ControlChannel {
				finished = true
				if c, ok := w.Value.(string); ok {
					output.Control = graph.Control(c)
				}
				continue
			}
			output.Writes = append(output.Writes, graph.Set(w.Channel, w.Value))
		}
		if finished {
			out[i] = output
		}
	}
	return out
}

// pendingWrites converts a node's output into the writes PutWrites records,
// ending with the control write that marks the node as finished.
func pendingWrites(out graph.Output) []checkpoint.PendingWrite {
	writes := make([]checkpoint.PendingWrite, 0, len(out.Writes)+1)
	for _, w := range out.Writes {
		writes = append(writes, checkpoint.PendingWrite{Channel: w.Channel, Value: w.Value})
	}
	return append(writes, checkpoint.PendingWrite{Channel: checkpoint.ControlChannel, Value: string(out.Control)})
}
