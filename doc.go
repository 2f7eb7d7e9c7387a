// Package engram provides session-scoped memory for conversational AI agents.
//
// Memory is organized in three levels:
//
//   - L0: raw turns, stored verbatim as they are ingested
//   - L1: episodes, bounded groupings of turns around a unit of work
//   - L2: facts, LLM-distilled conclusions that persist and evolve
//     across episodes through consolidation
//
// The root package defines the data model, the Store contract, and the
// provider interfaces (Embedder, Reflector, TokenCounter) that the memory
// pipelines consume. Concrete storage backends live in the storage package,
// reference providers in the providers package, and the pipelines themselves
// in the memory package. Most applications interact only with the session
// package:
//
//	sess, _ := session.New(session.Options{SessionID: "session-123"})
//	_ = sess.Initialize(ctx)
//	defer sess.Close(ctx)
//
//	sess.Ingest(ctx, memory.IngestRequest{Role: "user", Content: "What database should we use?"})
//	items, _ := sess.Recall(ctx, memory.RecallRequest{Query: "database choice"})
package engram
