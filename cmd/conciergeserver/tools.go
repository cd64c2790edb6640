package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/fieldservice/concierge/internal/tools"
)

// registerDemoTools catalogs the fixture tools referenced by
// testdata/config_5goal.yaml and config_6goal.yaml. They are in-memory
// stand-ins for the fulfillment backends a real deployment would call
// (account lookup, ticketing, scheduling, telephony hangup), exercising
// the real wiring end to end without a live upstream.
func registerDemoTools(reg *tools.Registry) error {
	registrations := []tools.Registration{
		customerLookupTool(),
		taskCreateTool(),
		calendarBookTool(),
		memoryUpdateExtractionFieldsTool(),
		callHangupTool(),
	}
	for _, r := range registrations {
		if err := reg.Register(r); err != nil {
			return fmt.Errorf("register tool %q: %w", r.Schema.Name, err)
		}
	}
	return nil
}

// customerLookupTool resolves a phone number to a fictitious account, the
// way a real deployment would call out to a CRM.
func customerLookupTool() tools.Registration {
	return tools.Registration{
		Schema: tools.Schema{
			Name:        "customer_lookup",
			Description: "Look up a customer account by phone number.",
			Category:    "account",
			Fields: []tools.FieldSchema{
				{Name: "query", Type: tools.KindString, Required: true},
			},
		},
		Enrich: []tools.EnrichmentRule{
			{ArgField: "query", MemoryPaths: []string{"customer.phone"}},
		},
		Mappings: []tools.ResultMapping{
			{ResultPath: "name", MemoryPath: "customer.name"},
			{ResultPath: "account_id", MemoryPath: "customer.account_id"},
		},
		Handler: func(_ context.Context, args map[string]tools.Value) tools.Result {
			if strings.TrimSpace(args["query"].String) == "" {
				return tools.Fail(tools.KindArgInvalid, "query is required")
			}
			return tools.Succeed(map[string]any{
				"name":       "Jordan Rivera",
				"account_id": "acct_4821",
			})
		},
	}
}

// taskCreateTool opens a service ticket for the plan the agent proposed.
func taskCreateTool() tools.Registration {
	return tools.Registration{
		Schema: tools.Schema{
			Name:        "task_create",
			Description: "Create a service task for the customer's request.",
			Category:    "fulfillment",
			Fields: []tools.FieldSchema{
				{Name: "description", Type: tools.KindString, Required: true},
			},
		},
		Enrich: []tools.EnrichmentRule{
			{
				ArgField:    "description",
				MemoryPaths: []string{"customer.name", "operations.plan_summary"},
				Template:    "Customer %s requested",
			},
		},
		Mappings: []tools.ResultMapping{
			{ResultPath: "task_id", MemoryPath: "operations.task_id"},
		},
		Handler: func(_ context.Context, args map[string]tools.Value) tools.Result {
			if strings.TrimSpace(args["description"].String) == "" {
				return tools.Fail(tools.KindArgInvalid, "description is required")
			}
			return tools.Succeed(map[string]any{"task_id": "task_9001"})
		},
	}
}

// calendarBookTool reserves the next available slot for a created task.
func calendarBookTool() tools.Registration {
	return tools.Registration{
		Schema: tools.Schema{
			Name:        "calendar_book",
			Description: "Book a calendar slot for an open service task.",
			Category:    "fulfillment",
			Fields: []tools.FieldSchema{
				{Name: "task_id", Type: tools.KindString, Required: true},
			},
		},
		Mappings: []tools.ResultMapping{
			{ResultPath: "booking_id", MemoryPath: "operations.booking_id"},
			{ResultPath: "slot", MemoryPath: "operations.booking_slot"},
		},
		Handler: func(_ context.Context, args map[string]tools.Value) tools.Result {
			if strings.TrimSpace(args["task_id"].String) == "" {
				return tools.Fail(tools.KindArgInvalid, "task_id is required")
			}
			return tools.Succeed(map[string]any{
				"booking_id": "book_1137",
				"slot":       "tomorrow 9:00-11:00",
			})
		},
	}
}

// memoryUpdateExtractionFieldsTool is the agent's one generic tool for
// writing structured facts it has extracted from the conversation back
// into session memory. It has no upstream: the result mapping is the
// whole effect.
func memoryUpdateExtractionFieldsTool() tools.Registration {
	return tools.Registration{
		Schema: tools.Schema{
			Name:        "memory_update_extraction_fields",
			Description: "Record facts extracted from the customer's last message.",
			Category:    "memory",
			Fields: []tools.FieldSchema{
				{Name: "phone", Type: tools.KindString},
				{Name: "email", Type: tools.KindString},
				{Name: "plan_summary", Type: tools.KindString},
			},
		},
		Mappings: []tools.ResultMapping{
			{ResultPath: "customer.phone", MemoryPath: "customer.phone"},
			{ResultPath: "customer.email", MemoryPath: "customer.email"},
			{ResultPath: "operations.plan_summary", MemoryPath: "operations.plan_summary"},
		},
		Handler: func(_ context.Context, args map[string]tools.Value) tools.Result {
			customer := map[string]any{}
			if v, ok := args["phone"]; ok {
				customer["phone"] = v.ToAny()
			}
			if v, ok := args["email"]; ok {
				customer["email"] = v.ToAny()
			}
			operations := map[string]any{}
			if v, ok := args["plan_summary"]; ok {
				operations["plan_summary"] = v.ToAny()
			}
			return tools.Succeed(map[string]any{
				"customer":   customer,
				"operations": operations,
			})
		},
	}
}

// callHangupTool is the synchronous tool the confirm goal's termination
// sequence invokes to end the call. A real deployment would call the
// telephony provider; here it is a no-op that always succeeds.
func callHangupTool() tools.Registration {
	return tools.Registration{
		Schema: tools.Schema{
			Name:        "call_hangup",
			Description: "End the current call.",
			Category:    "telephony",
		},
		Handler: func(context.Context, map[string]tools.Value) tools.Result {
			return tools.Succeed(nil)
		},
	}
}
