// Package docs registers the OpenAPI document served at /docs.
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
        "/": {
            "get": {
                "tags": ["health"],
                "summary": "Worker information",
                "produces": ["application/json"],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.WorkerInfoResponse"}}}
            }
        },
        "/health": {
            "get": {
                "tags": ["health"],
                "summary": "Health check",
                "description": "Reports 503 while audit records are being dropped",
                "produces": ["application/json"],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.HealthResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/handlers.HealthResponse"}}
                }
            }
        },
        "/cameras": {
            "get": {
                "tags": ["cameras"],
                "summary": "List all cameras",
                "responses": {"200": {"description": "OK", "schema": {"type": "object"}}}
            }
        },
        "/cameras/{camera_id}": {
            "get": {
                "tags": ["cameras"],
                "summary": "Get camera details",
                "parameters": [{"type": "string", "description": "Camera ID", "name": "camera_id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/ingest": {
            "post": {
                "tags": ["cameras"],
                "summary": "Ingest a frame detection batch",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [{"description": "Frame detection batch", "name": "request", "in": "body", "required": true, "schema": {"type": "object"}}],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/handlers.SuccessResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/zones": {
            "get": {
                "tags": ["policy"],
                "summary": "List zones",
                "parameters": [{"type": "string", "description": "Only zones drawn on this camera", "name": "camera", "in": "query"}],
                "responses": {"200": {"description": "OK", "schema": {"type": "object"}}}
            }
        },
        "/evidence": {
            "get": {
                "tags": ["evidence"],
                "summary": "List evidence sessions",
                "parameters": [
                    {"type": "string", "description": "Camera ID", "name": "camera", "in": "query"},
                    {"type": "integer", "default": 100, "description": "Maximum number of sessions", "name": "limit", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/evidence/active": {
            "get": {
                "tags": ["evidence"],
                "summary": "Active recordings",
                "responses": {"200": {"description": "OK", "schema": {"type": "object"}}}
            }
        },
        "/ws/events": {
            "get": {
                "tags": ["events"],
                "summary": "Live audit stream",
                "parameters": [
                    {"type": "string", "description": "Only records of this camera display name", "name": "camera", "in": "query"},
                    {"type": "string", "description": "EVENT to receive only EVENT records", "name": "type", "in": "query"}
                ],
                "responses": {"101": {"description": "Switching Protocols"}}
            }
        },
        "/system/stats": {
            "get": {
                "tags": ["system"],
                "summary": "Get system stats",
                "responses": {"200": {"description": "OK", "schema": {"type": "object"}}}
            }
        },
        "/worker/config": {
            "get": {
                "tags": ["worker"],
                "summary": "Get worker configuration",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.WorkerConfigResponse"}}}
            }
        },
        "/worker/shutdown": {
            "post": {
                "tags": ["worker"],
                "summary": "Shutdown worker",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.ShutdownResponse"}}}
            }
        }
    },
    "definitions": {
        "handlers.ErrorResponse": {
            "type": "object",
            "properties": {"error": {"type": "string"}}
        },
        "handlers.SuccessResponse": {
            "type": "object",
            "properties": {"message": {"type": "string"}}
        },
        "handlers.HealthResponse": {
            "type": "object",
            "properties": {
                "status": {"type": "string", "example": "healthy"},
                "worker_id": {"type": "string", "example": "worker-1"},
                "audit_log": {"type": "object"}
            }
        },
        "handlers.WorkerInfoResponse": {
            "type": "object",
            "properties": {
                "worker_id": {"type": "string", "example": "worker-1"},
                "status": {"type": "string", "example": "running"},
                "version": {"type": "string", "example": "1.0.0"},
                "capabilities": {"type": "array", "items": {"type": "string"}}
            }
        },
        "handlers.WorkerConfigResponse": {
            "type": "object",
            "properties": {
                "worker_id": {"type": "string"},
                "environment": {"type": "string"},
                "detector_mode": {"type": "string"},
                "camera_queue_size": {"type": "integer"},
                "heartbeat_decoupled": {"type": "boolean"}
            }
        },
        "handlers.ShutdownResponse": {
            "type": "object",
            "properties": {
                "status": {"type": "string"},
                "message": {"type": "string"},
                "timestamp": {"type": "string"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0.0",
	Host:             "localhost:8000",
	BasePath:         "/",
	Schemes:          []string{"http", "https"},
	Title:            "Sentinel Worker API",
	Description:      "Multi-camera decision worker: stage scheduling, policy alerts, evidence recording and the METRIC/EVENT audit log",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
