package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Student Records",
        "description": "Web front-end for the students API: list, search, create, update, delete and export records.",
        "version": "1.0.0"
    },
    "basePath": "/",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Students", "description": "Student records held by the students API"},
        {"name": "Exports", "description": "Rendered PDF and CSV lists"}
    ],
    "paths": {
        "/health": {
            "get": {
                "summary": "Health check",
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/ready": {
            "get": {
                "summary": "Readiness check",
                "description": "Reports ready once the students API answers.",
                "produces": ["application/json"],
                "responses": {
                    "200": {"description": "Ready"},
                    "503": {"description": "Students API unreachable", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/students": {
            "get": {
                "tags": ["Students"],
                "summary": "List students",
                "produces": ["application/json"],
                "parameters": [
                    {"name": "q", "in": "query", "type": "string", "required": false, "description": "Case-insensitive match on name or major"}
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "allOf": [
                                {"$ref": "#/definitions/ResponseEnvelope"},
                                {"type": "object", "properties": {"data": {"type": "array", "items": {"$ref": "#/definitions/Student"}}}}
                            ]
                        }
                    }
                }
            }
        },
        "/students": {
            "post": {
                "tags": ["Students"],
                "summary": "Create or update a student from the record form",
                "consumes": ["application/x-www-form-urlencoded"],
                "produces": ["text/html"],
                "parameters": [
                    {"name": "id", "in": "formData", "type": "string", "required": false, "description": "Student ID when editing"},
                    {"name": "name", "in": "formData", "type": "string", "required": true},
                    {"name": "age", "in": "formData", "type": "integer", "required": true},
                    {"name": "major", "in": "formData", "type": "string", "required": true},
                    {"name": "email", "in": "formData", "type": "string", "required": true}
                ],
                "responses": {
                    "303": {"description": "Saved, redirect to the list"},
                    "400": {"description": "Form rejected, page shows the notice"},
                    "502": {"description": "Students API rejected the request"}
                }
            }
        },
        "/students/{id}/delete": {
            "post": {
                "tags": ["Students"],
                "summary": "Delete a student once confirmed",
                "consumes": ["application/x-www-form-urlencoded"],
                "parameters": [
                    {"name": "id", "in": "path", "type": "string", "required": true},
                    {"name": "confirm", "in": "formData", "type": "string", "required": true, "description": "Must be yes to delete"}
                ],
                "responses": {
                    "303": {"description": "Deleted or declined, redirect to the list"},
                    "404": {"description": "Student not found"}
                }
            }
        },
        "/students/export": {
            "post": {
                "tags": ["Exports"],
                "summary": "Export the filtered list",
                "consumes": ["application/x-www-form-urlencoded"],
                "parameters": [
                    {"name": "q", "in": "formData", "type": "string", "required": false},
                    {"name": "format", "in": "formData", "type": "string", "enum": ["pdf", "csv"], "required": false}
                ],
                "responses": {
                    "303": {"description": "Redirect to the signed download link"}
                }
            }
        },
        "/exports/{token}": {
            "get": {
                "tags": ["Exports"],
                "summary": "Download a stored export via its signed token",
                "produces": ["application/octet-stream"],
                "parameters": [
                    {"name": "token", "in": "path", "type": "string", "required": true}
                ],
                "responses": {
                    "200": {"description": "File", "schema": {"type": "file"}},
                    "410": {"description": "Link invalid or expired", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "Student": {
            "type": "object",
            "properties": {
                "id": {"description": "Opaque identifier assigned by the students API"},
                "name": {"type": "string"},
                "age": {"type": "integer"},
                "major": {"type": "string"},
                "email": {"type": "string"}
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
