package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Exam Seating API",
        "description": "Asynchronous exam seating runs: upload the input tables, poll status, fetch rosters and download the artifact bundle",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "tags": [
        {"name": "Runs", "description": "Seating run lifecycle and results"},
        {"name": "Metrics", "description": "Process observability"},
        {"name": "Cache", "description": "Plan cache maintenance"}
    ],
    "paths": {
        "/runs": {
            "post": {
                "tags": ["Runs"],
                "summary": "Start a seating run",
                "security": [{"BearerAuth": []}],
                "consumes": ["multipart/form-data"],
                "parameters": [
                    {"name": "bundle", "in": "formData", "type": "file", "required": true, "description": "Zip with timetable, enrollments, names and rooms tables"},
                    {"name": "buffer", "in": "formData", "type": "integer", "minimum": 0},
                    {"name": "mode", "in": "formData", "type": "string", "enum": ["sparse", "dense"]},
                    {"name": "attendance", "in": "formData", "type": "boolean"}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Invalid parameters", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "413": {"description": "Bundle too large", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "get": {
                "tags": ["Runs"],
                "summary": "List seating runs",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "status", "in": "query", "type": "string", "enum": ["QUEUED", "PROCESSING", "FINISHED", "FAILED"]},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "page_size", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/runs/{id}": {
            "get": {
                "tags": ["Runs"],
                "summary": "Seating run status",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "type": "string", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/RunStatus"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/runs/{id}/rosters": {
            "get": {
                "tags": ["Runs"],
                "summary": "Room rosters of a finished run",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "type": "string", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/RosterRow"}}},
                    "412": {"description": "Run not finished", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/runs/{id}/usage": {
            "get": {
                "tags": ["Runs"],
                "summary": "Seat usage of a finished run",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "type": "string", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/UsageRow"}}},
                    "412": {"description": "Run not finished", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/runs/{id}/signals": {
            "get": {
                "tags": ["Runs"],
                "summary": "Clashes, warnings and errors of a finished run",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "type": "string", "required": true},
                    {"name": "kind", "in": "query", "type": "string", "enum": ["CLASH", "CAPACITY", "UNSEATED", "DUPLICATE_ENROLLMENT", "RENDER"]}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/Signal"}}},
                    "412": {"description": "Run not finished", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/runs/download/{token}": {
            "get": {
                "tags": ["Runs"],
                "summary": "Download the artifact bundle of a run",
                "produces": ["application/zip"],
                "parameters": [
                    {"name": "token", "in": "path", "type": "string", "required": true}
                ],
                "responses": {
                    "200": {"description": "Zip archive", "schema": {"type": "file"}},
                    "403": {"description": "Invalid or expired token", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/cache/plans": {
            "delete": {
                "tags": ["Cache"],
                "summary": "Drop every cached seating plan",
                "security": [{"BearerAuth": []}],
                "responses": {
                    "204": {"description": "Purged"},
                    "412": {"description": "Plan cache disabled", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/metrics/snapshot": {
            "get": {
                "tags": ["Metrics"],
                "summary": "Process metrics snapshot",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "RunStatus": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "status": {"type": "string", "enum": ["QUEUED", "PROCESSING", "FINISHED", "FAILED"]},
                "progress": {"type": "integer"},
                "params": {
                    "type": "object",
                    "properties": {
                        "buffer": {"type": "integer"},
                        "mode": {"type": "string"},
                        "attendance": {"type": "boolean"}
                    }
                },
                "input_hash": {"type": "string"},
                "summary": {
                    "type": "object",
                    "properties": {
                        "slots": {"type": "integer"},
                        "failed_slots": {"type": "integer"},
                        "registrations": {"type": "integer"},
                        "seated": {"type": "integer"},
                        "unseated": {"type": "integer"},
                        "clashes": {"type": "integer"},
                        "roster_rows": {"type": "integer"},
                        "artifacts": {"type": "array", "items": {"type": "string"}}
                    }
                },
                "result_url": {"type": "string"},
                "error": {"type": "string"},
                "created_by": {"type": "string"},
                "created_at": {"type": "string", "format": "date-time"},
                "finished_at": {"type": "string", "format": "date-time"}
            }
        },
        "RosterRow": {
            "type": "object",
            "properties": {
                "date": {"type": "string"},
                "session": {"type": "string", "enum": ["morning", "evening"]},
                "building": {"type": "string"},
                "room": {"type": "string"},
                "course": {"type": "string"},
                "rolls": {"type": "string"},
                "names": {"type": "string"},
                "count": {"type": "integer"}
            }
        },
        "UsageRow": {
            "type": "object",
            "properties": {
                "date": {"type": "string"},
                "session": {"type": "string"},
                "building": {"type": "string"},
                "room": {"type": "string"},
                "per_course_capacity": {"type": "integer"},
                "used": {"type": "integer"},
                "left": {"type": "integer"}
            }
        },
        "Signal": {
            "type": "object",
            "properties": {
                "kind": {"type": "string"},
                "severity": {"type": "string", "enum": ["warn", "error"]},
                "date": {"type": "string"},
                "session": {"type": "string"},
                "courses": {"type": "array", "items": {"type": "string"}},
                "rolls": {"type": "array", "items": {"type": "string"}},
                "room": {"type": "string"},
                "count": {"type": "integer"},
                "message": {"type": "string"}
            }
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total_count": {"type": "integer"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "pagination": {"$ref": "#/definitions/Pagination"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
