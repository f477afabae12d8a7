package policy

// BuiltinPolicies returns the policies every engine starts with.
func BuiltinPolicies() []Policy {
	return []Policy{
		hostnamePolicy(),
		resourceLimitsPolicy(),
		parentPinningPolicy(),
	}
}

// hostnamePolicy requires the guest hostname, which defaults to the catlet
// name, to be a DNS label.
func hostnamePolicy() Policy {
	return Policy{
		Name:        "catlet-hostname",
		Description: "Guest hostnames must be valid DNS labels",
		Severity:    SeverityError,
		Enabled:     true,
		Rego: `package catletctl.hostname

deny contains msg if {
	h := object.get(input.catlet, "hostname", input.catlet.name)
	not regex.match("^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$", lower(h))
	msg := sprintf("hostname '%s' is not a valid DNS label", [h])
}`,
	}
}

// resourceLimitsPolicy bounds processor and memory requests.
func resourceLimitsPolicy() Policy {
	return Policy{
		Name:        "resource-limits",
		Description: "Processor and memory requests must be within host limits",
		Severity:    SeverityError,
		Enabled:     true,
		Rego: `package catletctl.limits

max_cpu := 64

min_memory := 256

deny contains msg if {
	n := input.catlet.cpu.count
	n > max_cpu
	msg := sprintf("catlet requests %v processors, more than %v", [n, max_cpu])
}

deny contains msg if {
	s := input.catlet.memory.startup
	s > 0
	s < min_memory
	msg := sprintf("startup memory %v MiB is below %v MiB", [s, min_memory])
}

deny contains msg if {
	s := input.catlet.memory.startup
	m := input.catlet.memory.minimum
	m > s
	msg := sprintf("minimum memory %v MiB exceeds startup memory %v MiB", [m, s])
}

deny contains msg if {
	s := input.catlet.memory.startup
	m := input.catlet.memory.maximum
	m > 0
	m < s
	msg := sprintf("maximum memory %v MiB is below startup memory %v MiB", [m, s])
}`,
	}
}

// parentPinningPolicy warns about parents without a tag.
func parentPinningPolicy() Policy {
	return Policy{
		Name:        "parent-pinning",
		Description: "Parent genes should name a tag instead of following latest",
		Severity:    SeverityWarning,
		Enabled:     true,
		Rego: `package catletctl.parent

deny contains msg if {
	parent := input.catlet.parent
	count(split(parent, "/")) < 3
	msg := sprintf("parent '%s' has no tag and follows latest", [parent])
}`,
	}
}
