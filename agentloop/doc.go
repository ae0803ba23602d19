// Package agentloop is the agent's turn controller.
//
// It turns chat from the game world into model calls and model output into
// vetted commands. Every turn, whether it comes from a player, the
// self-prompting loop, the continuation timer or a death notice, enters
// through Agent.HandleMessage, which runs one turn at a time.
//
// # Architecture
//
//   - Agent: owns the conversation history and the turn semaphore, runs the
//     bounded response loop and the world event pump.
//   - Model: produces the next utterance; LLMModel backs it with a
//     unifiedllm client and shortens the conversation on context overflow.
//   - Executor: the command registry. Commands the model issues pass the
//     safety Gate before they run.
//   - Environment: the link to the game world (chat, raw commands, events).
//   - EventEmitter: typed event stream for the host application.
//
// # Quick Start
//
//	registry := commands.NewRegistry(logger)
//	agent, err := agentloop.New(opts, agentloop.Deps{
//	    Env:      bridge,
//	    Executor: registry,
//	    Gate:     evaluator,
//	    Model:    model,
//	    Store:    history.NewFileStore("bots/andy/memory.json"),
//	})
//	registry.Register(commands.ControlCommands(agent)...)
//
//	if err := agent.Run(ctx); errors.Is(err, agentloop.ErrEnvironmentDisconnect) {
//	    os.Exit(1)
//	}
package agentloop
