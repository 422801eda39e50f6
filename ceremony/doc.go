// Package ceremony is the stage machine shared by keygen and signing.
//
// A ceremony is a linear sequence of [Stage]s. Most stages are a
// [BroadcastStage]: it sends the data produced by a round-specific
// [Processor], collects at most one message from every participant, and
// once everybody has replied (or the runner's deadline fires) passes the
// collected messages, with None for the silent parties, to the processor.
// The processor returns the next stage, the ceremony output, or a
// [Failure] naming the parties to blame.
//
// Broadcast rounds that must be seen identically by everybody are
// followed by a verification round in which each party reports what it
// received. [VerifyBroadcasts] settles each sender's value, or its
// absence, by a two-thirds [Quorum] of those reports, and blames a sender
// only when no candidate reaches it.
package ceremony
