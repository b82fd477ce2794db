// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

/*
Package config loads and validates the beacon configuration.

# Configuration Sources

Configuration is layered with koanf, later sources overriding earlier ones:

 1. Built-in defaults (defaultConfig)
 2. A YAML file: CONFIG_PATH, else config.yaml, config.yml,
    /etc/beacon/config.yaml or /etc/beacon/config.yml
 3. Environment variables

Only the environment variables listed in envMappings are read. Comma
separated values are accepted for CORS_ORIGINS and AUDIT_CRITICAL_ACTIONS.

# Configuration Structure

Each section is the owning component's config type, so a component never
needs a translation layer:

  - server: listener settings plus api.Config
  - logging: logging.Config
  - store: backend selection, namespace and store.BadgerConfig
  - ratelimit, audit, notification: the component configs
  - webhook, email: delivery adapters, enabled when url or host is set
  - events: the event ingress bus
  - security: password policy, lockout, sessions, tokens, users and role
    assignments
  - supervisor: restart policy and maintenance job intervals
  - scopes: scope id to member ids, used by bulk sends and scoped events

# Example

	server:
	  port: 8080
	  environment: production
	  api:
	    cors_allowed_origins: ["https://app.example.com"]
	store:
	  badger:
	    path: /var/lib/beacon
	security:
	  auth:
	    users:
	      - username: alice
	        password_hash: $2a$12$...
	        role: admin

The token secret is normally supplied as JWT_SECRET rather than written to
the file. Users are configuration only; there is no signup endpoint.

# Validation

Validate reports every problem joined into one error. The server refuses to
start on an invalid configuration.
*/
package config
