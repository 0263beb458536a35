// Package pipeline runs the provisioning loop: one task at a time, each
// account registered, profiled and held at the referral-code step until an
// operator-supplied code is accepted, after which the next task starts with
// the mailbox created for it.
//
// # States
//
// Every task moves through
//
//	CREATING → REGISTERING → PROFILE_SETUP → AWAITING_CODE → CONFIRMING → ADVANCE
//
// with CONFIRMING → RETRY_CODE → AWAITING_CODE for every rejected code. Tasks
// after the first start in REGISTERING because their mailbox already exists.
//
// # Usage
//
//	p, err := pipeline.NewPipeline(pipeline.PipelineConfig{
//	    Provisioner: provisioner,
//	    Resolver:    resolver,
//	}, pipeline.WithLogger(logger), pipeline.WithBus(bus))
//	if err != nil {
//	    return err
//	}
//	err = p.Run(ctx) // returns ctx.Err() on cancellation
//
// # Thread Safety
//
// Run must be called once. CurrentToken and Index may be read from any
// goroutine while Run is in progress.
package pipeline
