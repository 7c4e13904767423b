// Package heartbeat detects agents that stop reporting.
//
// # Overview
//
// Agents publish periodic heartbeats carrying their own view of status and
// load. A Monitor counts whole heartbeat intervals since each agent last
// beat. Crossing OfflineAfterMisses marks the agent offline on the Target,
// which moves its tasks elsewhere; crossing RemoveAfterMisses unregisters it.
// A heartbeat from an offline agent brings it back.
//
//	┌─────────────┐   coord.heartbeat.<agent-id>   ┌──────────────┐
//	│  BusSender  │ ─────────────────────────────> │   Monitor    │──> Target
//	│   (agent)   │                                │ (coordinator)│
//	└─────────────┘                                └──────────────┘
//
// # Usage
//
// Sending heartbeats from an agent:
//
//	sender, _ := heartbeat.NewBusSender(heartbeat.SenderConfig{
//	    Bus:      b,
//	    AgentID:  "agent-1",
//	    Interval: 5 * time.Second,
//	})
//	sender.SetLoad(2)
//	sender.Start(ctx)
//
// Monitoring from the coordinator:
//
//	mon, _ := heartbeat.NewMonitor(coord, heartbeat.DefaultMonitorConfig())
//	go mon.Run(ctx, b, coord.Registry())
//
// Heartbeats are advisory. The registry's load stays authoritative.
package heartbeat
