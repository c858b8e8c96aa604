// Package sandbox provides the container engine client used to run one
// isolated shell per session.
//
// # Engine
//
// The Engine wraps a single Docker Engine connection and creates sandboxes
// with a fixed envelope:
//   - Memory 150 MiB, memory+swap equal to memory (no swap)
//   - 0.3 of one CPU
//   - PID limit 100, nofile ulimit 64/64
//   - NetworkMode "none": no network interfaces
//   - CapDrop ALL and "no-new-privileges"
//
// Each sandbox keeps /bin/bash running in the foreground on a TTY with stdin
// open. Commands run through a separate, non-interactive exec.
//
// # Demultiplexer
//
// Exec output arrives either as multiplexed frames (an 8-byte header carrying
// the stream tag and payload length) or as raw bytes. Demuxer and Demultiplex
// decode both, chunk by chunk.
//
// # Command Filter
//
// FilterCommand rejects empty and oversized commands and a short deny-list of
// destructive patterns (rm -rf /, fork bombs, mkfs, dd to a device, curl or
// wget piped to a shell). It is defense in depth; the envelope above is the
// boundary.
//
// # Usage
//
//	engine, err := sandbox.NewEngine(sandbox.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer engine.Close()
//
//	sb, err := engine.Provision(ctx, "42")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer engine.Terminate(ctx, sb.ID)
//
//	cmd, err := sandbox.FilterCommand("ls -la")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	output, err := engine.Execute(ctx, sb.ID, cmd)
package sandbox
