package handlers

import (
	"encoding/json"
	"net/http"
)

func schemaRef(name string) map[string]string {
	return map[string]string{"$ref": "#/components/schemas/" + name}
}

func jsonContent(schema interface{}) map[string]interface{} {
	return map[string]interface{}{
		"application/json": map[string]interface{}{"schema": schema},
	}
}

func operation(summary, description string, params []map[string]interface{}, body interface{}, ok string, okSchema interface{}, errors ...string) map[string]interface{} {
	responses := map[string]interface{}{
		ok: map[string]interface{}{
			"description": "Successful response",
			"content":     jsonContent(okSchema),
		},
	}
	for _, code := range errors {
		responses[code] = map[string]interface{}{
			"description": errorDescriptions[code],
			"content":     jsonContent(schemaRef("Error")),
		}
	}

	op := map[string]interface{}{
		"summary":     summary,
		"description": description,
		"responses":   responses,
	}
	if len(params) > 0 {
		op["parameters"] = params
	}
	if body != nil {
		op["requestBody"] = map[string]interface{}{
			"required": true,
			"content":  jsonContent(body),
		}
	}
	return op
}

func queryParam(name, description, typ string) map[string]interface{} {
	return map[string]interface{}{
		"name":        name,
		"in":          "query",
		"description": description,
		"required":    false,
		"schema":      map[string]string{"type": typ},
	}
}

func pathParam(name, description string) map[string]interface{} {
	return map[string]interface{}{
		"name":        name,
		"in":          "path",
		"description": description,
		"required":    true,
		"schema":      map[string]string{"type": "string"},
	}
}

var errorDescriptions = map[string]string{
	"400": "Invalid input",
	"404": "Not found",
	"409": "Action disabled or not valid in the current step",
	"412": "No signing account configured",
	"502": "Contract call or transaction failed",
	"503": "Journal disabled or unavailable",
}

var pageParams = []map[string]interface{}{
	queryParam("page", "Page number (default: 1)", "integer"),
	queryParam("limit", "Records per page (default: 100, max: 1000)", "integer"),
}

// OpenAPISpec returns the OpenAPI 3.0 specification for the Weather Options API
func OpenAPISpec(w http.ResponseWriter, r *http.Request) {
	tokenID := []map[string]interface{}{pathParam("id", "Option token id")}
	str := map[string]string{"type": "string"}
	integer := map[string]string{"type": "integer"}
	boolean := map[string]string{"type": "boolean"}

	spec := map[string]interface{}{
		"openapi": "3.0.0",
		"info": map[string]interface{}{
			"title":       "Weather Options API",
			"description": "Control API for purchasing, settling and claiming parametric rainfall options and for managing vault liquidity",
			"version":     "1.0.0",
			"contact": map[string]string{
				"name": "Weather Options Team",
			},
		},
		"servers": []map[string]string{
			{"url": "http://localhost:8080", "description": "Local development server"},
		},
		"paths": map[string]interface{}{
			"/api/flow": map[string]interface{}{
				"get": operation("Get purchase flow", "Current step, form, quote, derived figures and gates", nil, nil, "200", schemaRef("Flow")),
			},
			"/api/flow/form": map[string]interface{}{
				"put": operation("Update form", "Replace the form parameters; only allowed in the form step", nil, schemaRef("Form"), "200", schemaRef("Flow"), "400", "409"),
			},
			"/api/flow/quote": map[string]interface{}{
				"post": operation("Request quote", "Validate the form, simulate and submit a premium quote request", nil, nil, "200", schemaRef("Flow"), "400", "409", "412", "502"),
			},
			"/api/flow/confirm": map[string]interface{}{
				"post": operation("Confirm purchase", "Pay premium plus protocol fee and mint the option", nil, nil, "200", schemaRef("Flow"), "409", "412"),
			},
			"/api/flow/cancel": map[string]interface{}{
				"post": operation("Cancel review", "Abandon the quote under review and return to the form", nil, nil, "200", schemaRef("Flow"), "409"),
			},
			"/api/flow/reset": map[string]interface{}{
				"post": operation("Reset flow", "Return to the initial state from any step", nil, nil, "200", schemaRef("Flow")),
			},
			"/api/flow/history": map[string]interface{}{
				"get": operation("Flow history", "Journaled step transitions, newest first",
					append([]map[string]interface{}{
						queryParam("session_id", "Filter by purchase session", "string"),
						queryParam("since", "RFC3339 lower bound", "string"),
					}, pageParams...),
					nil, "200", schemaRef("Page"), "400", "503"),
			},
			"/api/positions": map[string]interface{}{
				"get": operation("List positions", "Discover and read the options held by the configured account", nil, nil, "200",
					map[string]interface{}{"type": "object", "properties": map[string]interface{}{
						"data":  map[string]interface{}{"type": "array", "items": schemaRef("Position")},
						"total": integer,
					}}, "412", "502"),
			},
			"/api/positions/snapshots": map[string]interface{}{
				"get": operation("Position snapshots", "Last stored snapshot of each position of owner",
					append([]map[string]interface{}{queryParam("owner", "Owner address", "string")}, pageParams...),
					nil, "200", map[string]string{"type": "object"}, "400", "503"),
			},
			"/api/positions/{id}": map[string]interface{}{
				"get": operation("Get position", "Terms, state, pending payout and action gates of one option", tokenID, nil, "200", schemaRef("Position"), "400", "502"),
			},
			"/api/positions/{id}/settlement": map[string]interface{}{
				"post": operation("Request settlement", "Ask the oracle for the observed rainfall of an expired option", tokenID, nil, "202", schemaRef("Tx"), "400", "409", "412", "502"),
			},
			"/api/positions/{id}/settlement/finalize": map[string]interface{}{
				"post": operation("Finalize settlement", "Settle an expired option once the oracle has answered", tokenID, nil, "202", schemaRef("Tx"), "400", "409", "412", "502"),
			},
			"/api/positions/{id}/claim": map[string]interface{}{
				"post": operation("Claim payout", "Withdraw the pending payout of a settled option", tokenID, nil, "202", schemaRef("Tx"), "400", "409", "412", "502"),
			},
			"/api/vault": map[string]interface{}{
				"get": operation("Vault", "Pool metrics and the configured account's liquidity position", nil, nil, "200", map[string]string{"type": "object"}, "502"),
			},
			"/api/vault/{action}": map[string]interface{}{
				"post": operation("Vault action", "wrap, approve, deposit or withdraw an ether amount",
					[]map[string]interface{}{pathParam("action", "wrap, approve, deposit or withdraw")},
					map[string]interface{}{"type": "object", "properties": map[string]interface{}{"amount": str}},
					"202", schemaRef("Tx"), "400", "404", "409", "412", "502"),
			},
			"/api/transactions": map[string]interface{}{
				"get": operation("Transactions", "Journaled transactions with their outcome",
					append([]map[string]interface{}{
						queryParam("action", "Filter by action", "string"),
						queryParam("status", "submitted, confirmed, reverted or failed", "string"),
						queryParam("token_id", "Filter by option token id", "string"),
					}, pageParams...),
					nil, "200", schemaRef("Page"), "503"),
			},
			"/api/transactions/{hash}": map[string]interface{}{
				"get": operation("Get transaction", "One journaled transaction", []map[string]interface{}{pathParam("hash", "Transaction hash")}, nil, "200", map[string]string{"type": "object"}, "404", "503"),
			},
			"/api/stats": map[string]interface{}{
				"get": operation("Activity statistics", "Transaction outcomes and success rate per action",
					[]map[string]interface{}{queryParam("since", "RFC3339 lower bound", "string")},
					nil, "200", map[string]string{"type": "object"}, "400", "503"),
			},
			"/api/client-config": map[string]interface{}{
				"get": operation("Client configuration", "App name, chain id, wallet-connector project id and contract addresses", nil, nil, "200", map[string]string{"type": "object"}),
			},
			"/health": map[string]interface{}{
				"get": operation("Health check", "Check if the API and the journal are up", nil, nil, "200",
					map[string]interface{}{"type": "object", "properties": map[string]interface{}{"status": str, "journal": str}}, "503"),
			},
			"/metrics": map[string]interface{}{
				"get": map[string]interface{}{
					"summary":     "Prometheus metrics",
					"description": "Prometheus metrics endpoint for monitoring",
					"responses": map[string]interface{}{
						"200": map[string]interface{}{
							"description": "Prometheus metrics in text format",
							"content": map[string]interface{}{
								"text/plain": map[string]interface{}{
									"schema": str,
								},
							},
						},
					},
				},
			},
		},
		"components": map[string]interface{}{
			"schemas": map[string]interface{}{
				"Error": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"error":   str,
						"message": str,
						"kind":    str,
						"tx_hash": str,
						"code":    integer,
					},
				},
				"Tx": map[string]interface{}{
					"type":       "object",
					"properties": map[string]interface{}{"tx_hash": str},
				},
				"Page": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"data":        map[string]string{"type": "array"},
						"total":       integer,
						"page":        integer,
						"limit":       integer,
						"total_pages": integer,
					},
				},
				"Form": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"kind":             map[string]interface{}{"type": "integer", "enum": []int{0, 1}, "description": "0 call, 1 put"},
						"location_index":   integer,
						"custom_location":  boolean,
						"custom_latitude":  str,
						"custom_longitude": str,
						"days":             integer,
						"strike_mm":        integer,
						"spread_mm":        integer,
						"notional":         map[string]string{"type": "string", "description": "ether decimal"},
					},
				},
				"Flow": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"session_id":           str,
						"step":                 map[string]interface{}{"type": "string", "enum": []string{"form", "quote-loading", "review", "creating", "success"}},
						"request_id":           str,
						"tx_hash":              str,
						"error":                schemaRef("Error"),
						"simulation_succeeded": boolean,
						"create_status":        str,
						"form":                 schemaRef("Form"),
						"premium":              integer,
						"figures":              map[string]string{"type": "object"},
						"params":               map[string]string{"type": "object"},
						"can_request_quote":    boolean,
						"can_confirm":          boolean,
						"connected":            boolean,
						"account":              str,
						"tracker_phase":        str,
					},
				},
				"Position": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"token_id":                integer,
						"terms":                   map[string]string{"type": "object"},
						"state":                   map[string]string{"type": "object"},
						"pending_payout":          integer,
						"max_payout":              integer,
						"expired":                 boolean,
						"can_request_settlement":  boolean,
						"can_finalize_settlement": boolean,
						"can_claim":               boolean,
						"actions":                 map[string]string{"type": "object"},
					},
				},
			},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(spec)
}
