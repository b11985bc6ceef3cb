// Package cli provides the interactive photocatalog command-line client.
//
// It wires configuration, local storage, the object store and an interactive
// REPL. While the REPL runs, a background watcher keeps the catalog in sync
// with the remote and, if configured, a Prometheus endpoint serves metrics.
//
// Commands:
//   - star / unstar <path>...        back up files and (un)mark them starred
//   - check <path>                   tell whether a file is already starred
//   - export <dir> [hash...]         download starred photos into dir
//   - sync                           pull remote changes and publish local ones
//   - status                         catalog summary
//   - checkpoints                    list batch checkpoints
//   - resume [id]                    continue an interrupted batch
//
// The REPL is started via App.Run(ctx), which blocks until the user exits.
package cli
