// Package voice tracks per-utterance latency through the persona voice
// pipeline.
//
// Every finalized transcript a bot handles becomes one Turn. The bot marks
// each stage as it completes:
//
//	turn := collector.Begin(text)
//	// build prompt
//	turn.Mark(voice.StagePrompt)
//	// call completion service
//	turn.Mark(voice.StageCompletion)
//	// synthesize speech
//	turn.Mark(voice.StageSpeech)
//	// broadcast to the room
//	turn.Mark(voice.StageBroadcast)
//	collector.Finish(turn, nil)
//
// Stage latencies are measured from the previous mark, and the total from
// the moment the transcript was received. The collector keeps a bounded
// history for averaging and for the sessions endpoint.
package voice
