// Package docs registers the OpenAPI description of the streak API with
// swag. Regenerate with `swag init -g internal/http/router.go -o docs`.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/streak": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Streak"],
                "summary": "Current streak",
                "operationId": "getStreak",
                "parameters": [
                    {"type": "string", "description": "User ID", "name": "X-User-ID", "in": "header", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/services.StreakView"}},
                    "401": {"description": "Missing identity", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "404": {"description": "No streak yet", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/streak/can-claim": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Streak"],
                "summary": "Claim eligibility",
                "operationId": "canClaim",
                "parameters": [
                    {"type": "string", "description": "User ID", "name": "X-User-ID", "in": "header", "required": true},
                    {"type": "string", "description": "IANA timezone", "name": "X-Timezone", "in": "header"},
                    {"type": "string", "description": "Day to check (YYYY-MM-DD), default today", "name": "date", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/services.Eligibility"}},
                    "400": {"description": "Invalid date or timezone", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/streak/claims": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Streak"],
                "summary": "Claim history (paginated)",
                "operationId": "listClaims",
                "parameters": [
                    {"type": "string", "description": "User ID", "name": "X-User-ID", "in": "header", "required": true},
                    {"type": "string", "description": "Return 304 if ETag matches", "name": "If-None-Match", "in": "header"},
                    {"minimum": 1, "type": "integer", "default": 1, "description": "Page number", "name": "page", "in": "query"},
                    {"maximum": 100, "minimum": 1, "type": "integer", "default": 20, "description": "Items per page", "name": "page_size", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.ListClaimsResponse"}},
                    "304": {"description": "Not Modified"}
                }
            },
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Streak"],
                "summary": "Claim a day",
                "operationId": "postClaim",
                "parameters": [
                    {"type": "string", "description": "User ID", "name": "X-User-ID", "in": "header", "required": true},
                    {"type": "string", "description": "Client retry key", "name": "Idempotency-Key", "in": "header"},
                    {"description": "Claim payload", "name": "body", "in": "body", "schema": {"$ref": "#/definitions/handlers.ClaimBody"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/services.ClaimResult"}},
                    "409": {"description": "Already claimed", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "422": {"description": "Not eligible", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "503": {"description": "Health signal unavailable", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/streak/freezes": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Streak"],
                "summary": "Spend a shield",
                "operationId": "activateFreeze",
                "parameters": [
                    {"type": "string", "description": "User ID", "name": "X-User-ID", "in": "header", "required": true},
                    {"description": "Day to cover", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.FreezeBody"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/services.FreezeResult"}},
                    "422": {"description": "No shields or date out of range", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/streak/pause": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Streak"],
                "summary": "Pause the streak",
                "operationId": "pauseStreak",
                "parameters": [
                    {"type": "string", "description": "User ID", "name": "X-User-ID", "in": "header", "required": true},
                    {"description": "Resume date", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.PauseBody"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/services.StreakView"}},
                    "409": {"description": "Already paused", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/streak/resume": {
            "post": {
                "produces": ["application/json"],
                "tags": ["Streak"],
                "summary": "End a pause early",
                "operationId": "resumeStreak",
                "parameters": [
                    {"type": "string", "description": "User ID", "name": "X-User-ID", "in": "header", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/services.StreakView"}},
                    "409": {"description": "Not paused", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/recoveries": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Recovery"],
                "summary": "Start a recovery",
                "operationId": "startRecovery",
                "parameters": [
                    {"type": "string", "description": "User ID", "name": "X-User-ID", "in": "header", "required": true},
                    {"description": "Recovery type", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.StartRecoveryBody"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/services.RecoveryView"}},
                    "402": {"description": "Payment failed", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "409": {"description": "Attempt already in progress", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "422": {"description": "Nothing to recover or limit reached", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/recoveries/current": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Recovery"],
                "summary": "Current recovery attempt",
                "operationId": "currentRecovery",
                "parameters": [
                    {"type": "string", "description": "User ID", "name": "X-User-ID", "in": "header", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/services.RecoveryView"}},
                    "404": {"description": "No attempt", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/recoveries/{id}/actions": {
            "post": {
                "produces": ["application/json"],
                "tags": ["Recovery"],
                "summary": "Record a recovery action",
                "operationId": "recordRecoveryAction",
                "parameters": [
                    {"type": "string", "description": "User ID", "name": "X-User-ID", "in": "header", "required": true},
                    {"type": "string", "description": "Attempt ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/services.RecoveryView"}},
                    "404": {"description": "Attempt not found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "410": {"description": "Attempt expired", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "handlers.ErrorResponse": {
            "type": "object",
            "properties": {
                "request_id": {"type": "string"},
                "code": {"type": "string", "example": "STREAK_NOT_FOUND"},
                "message": {"type": "string"},
                "detail": {"type": "string"}
            }
        },
        "handlers.ClaimBody": {
            "type": "object",
            "properties": {
                "date": {"type": "string", "example": "2025-10-21"},
                "timezone": {"type": "string", "example": "America/New_York"},
                "method": {"type": "string", "example": "explicit"}
            }
        },
        "handlers.FreezeBody": {
            "type": "object",
            "required": ["date"],
            "properties": {
                "date": {"type": "string", "example": "2025-10-21"},
                "timezone": {"type": "string"}
            }
        },
        "handlers.PauseBody": {
            "type": "object",
            "required": ["resume_date"],
            "properties": {
                "resume_date": {"type": "string", "example": "2025-11-05"},
                "timezone": {"type": "string"}
            }
        },
        "handlers.StartRecoveryBody": {
            "type": "object",
            "required": ["recovery_type"],
            "properties": {
                "recovery_type": {"type": "string", "example": "weekend_warrior"},
                "broken_date": {"type": "string"},
                "timezone": {"type": "string"}
            }
        },
        "handlers.Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total": {"type": "integer"},
                "total_pages": {"type": "integer"},
                "has_next": {"type": "boolean"}
            }
        },
        "handlers.ListClaimsResponse": {
            "type": "object",
            "properties": {
                "claims": {"type": "array", "items": {"type": "object"}},
                "pagination": {"$ref": "#/definitions/handlers.Pagination"}
            }
        },
        "services.Eligibility": {
            "type": "object",
            "properties": {
                "date": {"type": "string"},
                "can_claim": {"type": "boolean"},
                "already_claimed": {"type": "boolean"},
                "has_health_data": {"type": "boolean"},
                "grace_period_active": {"type": "boolean"},
                "reason": {"type": "string"}
            }
        },
        "services.ClaimResult": {
            "type": "object",
            "properties": {
                "claim_date": {"type": "string"},
                "method": {"type": "string"},
                "streak_count": {"type": "integer"},
                "longest_streak": {"type": "integer"},
                "shields_available": {"type": "integer"},
                "message": {"type": "string"}
            }
        },
        "services.FreezeResult": {
            "type": "object",
            "properties": {
                "date": {"type": "string"},
                "shields_remaining": {"type": "integer"},
                "streak_count": {"type": "integer"},
                "message": {"type": "string"}
            }
        },
        "services.StreakView": {
            "type": "object",
            "properties": {
                "user_id": {"type": "string"},
                "current_streak": {"type": "integer"},
                "longest_streak": {"type": "integer"},
                "shields_available": {"type": "integer"},
                "last_claim_date": {"type": "string"},
                "highest_milestone_granted": {"type": "integer"},
                "next_milestone": {"type": "integer"},
                "paused": {"type": "boolean"},
                "pause_resume_date": {"type": "string"},
                "timezone": {"type": "string"},
                "broken_date": {"type": "string"},
                "pre_break_streak": {"type": "integer"}
            }
        },
        "services.RecoveryView": {
            "type": "object",
            "properties": {
                "attempt_id": {"type": "string"},
                "recovery_type": {"type": "string"},
                "status": {"type": "string"},
                "broken_date": {"type": "string"},
                "actions_required": {"type": "integer"},
                "actions_completed": {"type": "integer"},
                "actions_remaining": {"type": "integer"},
                "expires_at": {"type": "string"},
                "completed_at": {"type": "string"},
                "streak_count": {"type": "integer"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "Streak Engine API",
	Description:      "Per-user engagement streaks: claims, shields, pauses and recoveries.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
