// Package policy evaluates Rego admission policies against resolved catlet
// configurations before catlets are created.
//
// Every policy is a Rego module whose package defines a deny set. Members
// are either message strings or objects with a message and an optional
// severity. Violations with severity "error" deny the request; warnings
// and info findings are reported only.
//
// The engine starts with built-in policies for guest hostnames, resource
// limits and parent pinning. More policies are loaded from .rego or .json
// files:
//
//	eng, err := policy.NewEngine(log.Logger)
//	if err != nil {
//	    return err
//	}
//	if err := eng.LoadPolicies(ctx, []string{"./policies"}); err != nil {
//	    return err
//	}
//
//	result, err := eng.Evaluate(ctx, policy.NewInput("web", engine.ActionUp, req))
//
// A policy file sees this input:
//
//	{
//	  "machine": "web",
//	  "action": "up",
//	  "catlet": {"name": "web", "parent": "dbosoft/ubuntu-22.04/starter", "cpu": {"count": 2}},
//	  "fodder": [{"name": "catlet-user-setup", "type": "cloud-config"}]
//	}
//
// An example policy file:
//
//	# Production catlets need at least 4 GiB.
//	# severity: error
//	package team.memory
//
//	deny contains msg if {
//	    input.catlet.environment == "production"
//	    input.catlet.memory.startup < 4096
//	    msg := "production catlets need 4096 MiB"
//	}
package policy
