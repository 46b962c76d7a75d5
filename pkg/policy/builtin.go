package policy

// BuiltinPolicies returns the policies every engine starts with.
func BuiltinPolicies() []Policy {
	return []Policy{
		versionRequiredPolicy(),
		semanticVersionPolicy(),
		dependencyFanoutPolicy(),
	}
}

// versionRequiredPolicy denies packages declared without a version.
func versionRequiredPolicy() Policy {
	return Policy{
		Name:        "version-required",
		Description: "Packages must declare a version",
		Enabled:     true,
		Rego: `package pkgctl.builtin.version_required

deny contains msg if {
	input.version == ""
	msg := sprintf("package %s does not declare a version", [input.package])
}
`,
	}
}

// semanticVersionPolicy denies versions that are not MAJOR.MINOR.PATCH with
// optional pre-release and build suffixes.
func semanticVersionPolicy() Policy {
	return Policy{
		Name:        "semantic-version",
		Description: "Package versions must follow semantic versioning",
		Enabled:     true,
		Rego: `package pkgctl.builtin.semantic_version

semver := ` + "`" + `^v?(0|[1-9][0-9]*)\.(0|[1-9][0-9]*)\.(0|[1-9][0-9]*)(-[0-9A-Za-z.-]+)?(\+[0-9A-Za-z.-]+)?$` + "`" + `

deny contains msg if {
	input.version != ""
	not regex.match(semver, input.version)
	msg := sprintf("package %s version %q is not a semantic version", [input.package, input.version])
}
`,
	}
}

// dependencyFanoutPolicy bounds the number of direct dependencies.
func dependencyFanoutPolicy() Policy {
	return Policy{
		Name:        "dependency-fanout",
		Description: "Packages may declare at most 16 direct dependencies",
		Enabled:     true,
		Rego: `package pkgctl.builtin.dependency_fanout

max_dependencies := 16

deny contains msg if {
	count(input.dependencies) > max_dependencies
	msg := sprintf("package %s declares %d dependencies, more than %d", [input.package, count(input.dependencies), max_dependencies])
}
`,
	}
}
