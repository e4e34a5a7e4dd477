// Package device models the remote modules managed by the fleet orchestrator.
//
// A Device tracks one endpoint's connectivity status, capability set,
// firmware version, operating frequency, and free-form telemetry. It exposes
// the two transport primitives agents build on:
//
//   - Ping(ctx): best-effort reachability probe. Never returns an error; a
//     failed probe transitions the device to offline, a successful one to
//     online. Bounded by a per-device timeout.
//   - SendCommand(ctx, command, payload): a JSON command round-trip to the
//     companion firmware at http://<address>/api/command. Routed through a
//     circuit breaker so a dead device fails fast instead of eating the full
//     timeout on every call.
//
// Status transitions:
//
//	unknown ──ping ok──▶ online ◀──ping ok── offline
//	   │                   │
//	   └──ping fail──▶ offline
//	online ──FlashFirmware──▶ updating ──▶ online | error
//
// Devices are owned by the orchestrator's registry. Agents receive a borrowed
// reference per dispatch and must not retain it beyond the call.
package device
