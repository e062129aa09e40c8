// Package swagger registers the OpenAPI document of the scanner API with
// swag so that it is served under /swagger/.
//
// The document is maintained by hand in the layout swag init emits. Keep
// it in step with the routes in internal/api/server.go.
package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {
            "name": "homiodev",
            "url": "https://github.com/homiodev/addon-ipscanner"
        },
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/health": {
            "get": {
                "description": "Liveness of the service and the scan engine",
                "produces": ["application/json"],
                "tags": ["System"],
                "summary": "Health check",
                "operationId": "getHealth",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/HealthResponse"}}
                }
            }
        },
        "/status": {
            "get": {
                "description": "Engine state, progress of the running scan and counters of the last one",
                "produces": ["application/json"],
                "tags": ["System"],
                "summary": "Engine status",
                "operationId": "getStatus",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/StatusResponse"}}
                }
            }
        },
        "/scans": {
            "post": {
                "description": "Starts a scan of an address range. Mode rescan repeats the last range, continue resumes after the last scanned address.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Scans"],
                "summary": "Start scan",
                "operationId": "startScan",
                "parameters": [
                    {"description": "Range and options", "name": "scan", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ScanRequest"}}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/ScanStartedResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/ErrorResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/ErrorResponse"}},
                    "415": {"description": "Unsupported Media Type", "schema": {"$ref": "#/definitions/ErrorResponse"}}
                }
            }
        },
        "/scans/stop": {
            "post": {
                "description": "Finishes the hosts in flight and stops feeding new ones",
                "produces": ["application/json"],
                "tags": ["Scans"],
                "summary": "Stop scan",
                "operationId": "stopScan",
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/ScanControlResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/ErrorResponse"}}
                }
            }
        },
        "/scans/kill": {
            "post": {
                "description": "Interrupts the hosts in flight of a stopping scan",
                "produces": ["application/json"],
                "tags": ["Scans"],
                "summary": "Kill scan",
                "operationId": "killScan",
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/ScanControlResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/ErrorResponse"}}
                }
            }
        },
        "/results": {
            "get": {
                "description": "Rows of the current or last scan in column order",
                "produces": ["application/json"],
                "tags": ["Scans"],
                "summary": "Scan results",
                "operationId": "listResults",
                "parameters": [
                    {"type": "boolean", "default": false, "description": "Include hosts that did not answer", "name": "dead", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResultsResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/ErrorResponse"}}
                }
            }
        },
        "/fetchers": {
            "get": {
                "description": "Every registered fetcher and the current selection",
                "produces": ["application/json"],
                "tags": ["Fetchers"],
                "summary": "List fetchers",
                "operationId": "listFetchers",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/FetchersResponse"}}
                }
            },
            "put": {
                "description": "Replaces the selection. During a scan the change is applied once the scan completes.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Fetchers"],
                "summary": "Select fetchers",
                "operationId": "updateFetchers",
                "parameters": [
                    {"description": "Fetcher IDs", "name": "selection", "in": "body", "required": true, "schema": {"$ref": "#/definitions/FetcherSelectionRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/FetchersResponse"}},
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/FetchersResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/ErrorResponse"}}
                }
            }
        },
        "/ws": {
            "get": {
                "description": "Upgrades to a websocket carrying state, progress and result events",
                "tags": ["Events"],
                "summary": "Event stream",
                "operationId": "streamEvents",
                "responses": {
                    "101": {"description": "Switching Protocols"}
                }
            }
        },
        "/metrics": {
            "get": {
                "description": "Prometheus metrics in text exposition format",
                "produces": ["text/plain"],
                "tags": ["System"],
                "summary": "Metrics",
                "operationId": "getMetrics",
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "string"}}
                }
            }
        }
    },
    "definitions": {
        "ErrorResponse": {
            "type": "object",
            "properties": {
                "error": {"type": "string", "example": "Bad Request"},
                "message": {"type": "string"},
                "label": {"type": "string", "example": "invalid_address"},
                "timestamp": {"type": "string", "format": "date-time"},
                "request_id": {"type": "string"}
            }
        },
        "HealthResponse": {
            "type": "object",
            "properties": {
                "status": {"type": "string", "example": "healthy"},
                "timestamp": {"type": "string", "format": "date-time"},
                "uptime": {"type": "string", "example": "1h2m3s"},
                "checks": {"type": "object", "additionalProperties": {"type": "string"}}
            }
        },
        "Progress": {
            "type": "object",
            "properties": {
                "scan_id": {"type": "string", "format": "uuid"},
                "current": {"type": "string", "example": "192.168.0.17"},
                "active_workers": {"type": "integer"},
                "percent": {"type": "number"}
            }
        },
        "StatusResponse": {
            "type": "object",
            "properties": {
                "state": {"type": "string", "enum": ["IDLE", "STARTING", "SCANNING", "STOPPING", "KILLING", "RESTARTING", "COMPLETE"]},
                "scan_id": {"type": "string", "format": "uuid"},
                "range": {"type": "string", "example": "192.168.0.1 - 192.168.0.254"},
                "progress": {"$ref": "#/definitions/Progress"},
                "started_at": {"type": "string", "format": "date-time"},
                "hosts": {"type": "integer"},
                "alive": {"type": "integer"},
                "with_ports": {"type": "integer"},
                "finished_at": {"type": "string", "format": "date-time"},
                "pinger": {"type": "string", "example": "pinger.combined"},
                "fetchers": {"type": "array", "items": {"type": "string"}},
                "goroutines": {"type": "integer"},
                "timestamp": {"type": "string", "format": "date-time"}
            }
        },
        "ScanRequest": {
            "type": "object",
            "required": ["start", "end"],
            "properties": {
                "start": {"type": "string", "example": "192.168.0.1"},
                "end": {"type": "string", "example": "192.168.0.254"},
                "ports": {"type": "string", "example": "22,80,8000-8100"},
                "mode": {"type": "string", "enum": ["start", "rescan", "continue"]}
            }
        },
        "ScanStartedResponse": {
            "type": "object",
            "properties": {
                "scan_id": {"type": "string", "format": "uuid"},
                "mode": {"type": "string"},
                "state": {"type": "string"},
                "timestamp": {"type": "string", "format": "date-time"}
            }
        },
        "ScanControlResponse": {
            "type": "object",
            "properties": {
                "state": {"type": "string"},
                "timestamp": {"type": "string", "format": "date-time"}
            }
        },
        "ResultValue": {
            "type": "object",
            "properties": {
                "address": {"type": "string"},
                "hostname": {"type": "string", "x-nullable": true},
                "ping": {"type": "string", "x-nullable": true},
                "webDetect": {"type": "string", "x-nullable": true},
                "httpSender": {"type": "string", "x-nullable": true},
                "netBIOS": {"type": "string", "x-nullable": true},
                "ports": {"type": "string", "x-nullable": true},
                "macVendor": {"type": "string", "x-nullable": true},
                "mac": {"type": "string", "x-nullable": true},
                "packetLoss": {"type": "string", "x-nullable": true},
                "pingTTL": {"type": "string", "x-nullable": true},
                "httpProxy": {"type": "string", "x-nullable": true},
                "snmpName": {"type": "string", "x-nullable": true},
                "type": {"type": "string", "enum": ["UNKNOWN", "DEAD", "ALIVE", "WITH_PORTS"]},
                "color": {"type": "string"}
            }
        },
        "ResultsResponse": {
            "type": "object",
            "properties": {
                "scan_id": {"type": "string", "format": "uuid"},
                "state": {"type": "string"},
                "columns": {"type": "array", "items": {"type": "string"}},
                "results": {"type": "array", "items": {"$ref": "#/definitions/ResultValue"}},
                "total": {"type": "integer"}
            }
        },
        "FetcherInfo": {
            "type": "object",
            "properties": {
                "id": {"type": "string", "example": "Ping"},
                "name": {"type": "string", "example": "Ping"},
                "selected": {"type": "boolean"}
            }
        },
        "FetchersResponse": {
            "type": "object",
            "properties": {
                "available": {"type": "array", "items": {"$ref": "#/definitions/FetcherInfo"}},
                "selected": {"type": "array", "items": {"type": "string"}},
                "applied": {"type": "boolean"}
            }
        },
        "FetcherSelectionRequest": {
            "type": "object",
            "required": ["fetchers"],
            "properties": {
                "fetchers": {"type": "array", "minItems": 1, "items": {"type": "string"}}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "IP Scanner API",
	Description:      "Scans IPv4 and IPv6 address ranges for live hosts, open ports and host details.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
