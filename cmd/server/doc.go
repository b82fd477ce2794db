// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

/*
Package main is the entry point for the beacon server.

Beacon sends notifications to users of a host application, keeps a tamper
evident audit trail of security relevant actions, and guards logins with
lockout and rate limiting. Host applications talk to it over a REST API and
an event ingress; users receive in-app notifications live over a websocket.

# Application Architecture

Services run under a Suture v4 supervisor tree:

	RootSupervisor ("beacon")
	├── JobsSupervisor ("jobs-layer")
	│   ├── audit-flush
	│   ├── limiter-sweep
	│   ├── lockout-sweep
	│   └── store-cleanup (expired records, badger value log GC)
	├── MessagingSupervisor ("messaging-layer")
	│   ├── websocket-hub
	│   ├── event-bus (watermill gochannel router)
	│   └── scheduled-delivery
	└── APISupervisor ("api-layer")
	    └── http-server (chi)

Component initialization order:

 1. Configuration: koanf with defaults, YAML file and environment
 2. Logging: zerolog with JSON or console output
 3. Store: BadgerDB, or memory for ephemeral deployments
 4. Audit log: buffered store sink plus a write-through backup
 5. Security: casbin permissions, lockout, sessions, JWT issuer
 6. Notification engine with in-app, webhook and email adapters
 7. Event bus and classifier
 8. Supervisor tree, then the HTTP server

# Configuration

	JWT_SECRET=<32+ chars>       # required
	HTTP_PORT=8080
	LOG_LEVEL=info               # trace, debug, info, warn, error
	LOG_FORMAT=json              # json or console
	STORE_BACKEND=badger         # badger or memory
	BADGER_PATH=./data/beacon
	CORS_ORIGINS=https://app.example.com
	WEBHOOK_URL=                 # enables webhook delivery
	SMTP_HOST=                   # enables email delivery

Users, role assignments and scopes are configured in the YAML file. See
package config for the full list.

# Signal Handling

SIGINT and SIGTERM cancel the root context. The supervisor stops every
service, the HTTP server drains in-flight requests, then the audit log is
flushed and the store closed.
*/
package main
