// Package docs registers the OpenAPI description served at /docs. It
// mirrors the swag annotations on the handlers in internal/api/handler.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {
            "name": "Le Grimoire"
        },
        "license": {
            "name": "MIT"
        },
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/": {
            "get": {
                "description": "Returns API name, version, status and the source priority order.",
                "produces": ["application/json"],
                "tags": ["meta"],
                "summary": "API root info",
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object", "additionalProperties": true}}
                }
            }
        },
        "/health": {
            "get": {
                "description": "Returns basic health status and timestamp.",
                "produces": ["application/json"],
                "tags": ["health"],
                "summary": "Health check",
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object", "additionalProperties": true}}
                }
            }
        },
        "/health/db": {
            "get": {
                "description": "Verifies store connectivity and reports the number of wines.",
                "produces": ["application/json"],
                "tags": ["health"],
                "summary": "Database health check",
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object", "additionalProperties": true}},
                    "503": {"description": "Service Unavailable", "schema": {"type": "object", "additionalProperties": true}}
                }
            }
        },
        "/health/cache": {
            "get": {
                "description": "Returns in-memory cache statistics (active keys, expired keys).",
                "produces": ["application/json"],
                "tags": ["health"],
                "summary": "Cache health check",
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object", "additionalProperties": true}}
                }
            }
        },
        "/api/v1/wines/by-lwin/{code}": {
            "get": {
                "description": "Dispatches on code length: LWIN-7 returns every vintage, LWIN-11 one vintage, LWIN-18 one pack format.",
                "produces": ["application/json"],
                "tags": ["wines"],
                "summary": "Look up wines by LWIN",
                "parameters": [
                    {"type": "string", "description": "LWIN code (7, 11 or 18 digits)", "name": "code", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handler.WineList"}},
                    "304": {"description": "Not Modified"},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/respond.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/respond.ErrorResponse"}}
                }
            }
        },
        "/api/v1/wines/search": {
            "get": {
                "description": "Case-insensitive search. Name matches a substring; region, country and type match exactly after normalization. Results are ordered by name then vintage.",
                "produces": ["application/json"],
                "tags": ["wines"],
                "summary": "Search wines",
                "parameters": [
                    {"type": "string", "description": "Substring of the wine name", "name": "name", "in": "query"},
                    {"type": "string", "description": "Region", "name": "region", "in": "query"},
                    {"type": "string", "description": "Country (synonyms such as USA are accepted)", "name": "country", "in": "query"},
                    {"type": "string", "description": "Wine type (synonyms such as rouge or champagne are accepted)", "name": "wine_type", "in": "query"},
                    {"type": "integer", "description": "Page size (default 50, max 500)", "name": "limit", "in": "query"},
                    {"type": "integer", "description": "Rows to skip", "name": "offset", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handler.WineList"}},
                    "304": {"description": "Not Modified"},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/respond.ErrorResponse"}}
                }
            }
        },
        "/api/v1/wines/{id}": {
            "get": {
                "description": "Returns the effective view of one wine document, manual overrides applied.",
                "produces": ["application/json"],
                "tags": ["wines"],
                "summary": "Get a wine",
                "parameters": [
                    {"type": "string", "description": "Wine id", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/wine.Record"}},
                    "304": {"description": "Not Modified"},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/respond.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "handler.WineList": {
            "type": "object",
            "properties": {
                "count": {"type": "integer"},
                "wines": {"type": "array", "items": {"$ref": "#/definitions/wine.Record"}}
            }
        },
        "respond.ErrorResponse": {
            "type": "object",
            "properties": {
                "error": {
                    "type": "object",
                    "properties": {
                        "code": {"type": "string"},
                        "message": {"type": "string"},
                        "detail": {"type": "string"}
                    }
                }
            }
        },
        "wine.GrapeVariety": {
            "type": "object",
            "properties": {
                "name": {"type": "string"},
                "percentage": {"type": "number"}
            }
        },
        "wine.Record": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "lwin7": {"type": "string"},
                "lwin11": {"type": "string"},
                "lwin18": {"type": "string"},
                "name": {"type": "string"},
                "producer": {"type": "string"},
                "vintage": {"type": "integer"},
                "wine_type": {"type": "string", "enum": ["red", "white", "rosé", "sparkling", "dessert", "fortified", "other"]},
                "country": {"type": "string"},
                "region": {"type": "string"},
                "sub_region": {"type": "string"},
                "appellation": {"type": "string"},
                "classification": {"type": "string"},
                "grape_varieties": {"type": "array", "items": {"$ref": "#/definitions/wine.GrapeVariety"}},
                "image_sources": {"type": "object", "additionalProperties": true},
                "price_data": {"type": "object", "additionalProperties": true},
                "ratings": {"type": "object", "additionalProperties": true},
                "tasting_notes_sources": {"type": "object", "additionalProperties": {"type": "string"}},
                "data_source": {"type": "string"},
                "enriched_by": {"type": "array", "items": {"type": "string"}},
                "last_synced": {"type": "object", "additionalProperties": {"type": "string", "format": "date-time"}},
                "manual_overrides": {"type": "object", "additionalProperties": true},
                "field_sources": {"type": "object", "additionalProperties": {"type": "string"}},
                "source_data": {"type": "object", "additionalProperties": true},
                "created_at": {"type": "string", "format": "date-time"},
                "updated_at": {"type": "string", "format": "date-time"}
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
	Title:            "Le Grimoire Wine API",
	Description:      "Read-only lookup over the merged LWIN wine catalogue. Every response is the effective view of a wine: canonical fields with manual overrides applied, plus per-source ratings, prices, images and tasting notes.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
