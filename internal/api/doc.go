// Tastemesh - Adaptive Personalization Backend
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tastemesh

/*
Package api exposes the personalization engine over HTTP using the chi
router.

Routes:

	POST /api/v1/learn                      queue a learning event (202)
	GET  /api/v1/recommend/{userID}         cached recommendations
	GET  /api/v1/predict/{userID}           predicted next actions and preload plan
	GET  /api/v1/health                     diagnostic snapshot
	GET  /api/v1/health/live                liveness
	GET  /api/v1/health/ready               readiness (engine active)
	GET  /api/v1/users/{userID}/preferences strongest learned features (?limit=)
	GET  /api/v1/users/{userID}/activity    recent learning activity (?limit=)
	GET  /api/v1/mesh/status                mesh status and known nodes
	GET  /api/v1/mesh/resolutions           recent conflict resolutions (?limit=)
	GET  /api/v1/mesh/contexts              live shared contexts (?type=)
	POST /api/v1/mesh/contexts              share a context item with peers (201)
	GET  /api/v1/consensus/decisions        recent consensus decisions (?limit=)
	GET  /metrics                           Prometheus exposition

Every JSON body uses the models.APIResponse envelope. Learning is
fire-and-forget: the handler validates the request, publishes it on the
learning bus and returns before the event is processed.

Middleware order, outermost first: request id and logging context, real
IP, panic recovery, CORS, then per-group rate limiting, Prometheus
instrumentation and a request timeout.
*/
package api
