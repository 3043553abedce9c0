// Package expression provides expression evaluation for workflow steps.
//
// It uses the expr-lang/expr library to evaluate expressions against
// execution state: step outputs keyed by step ID, and the execution input
// under "input". Expressions support:
//
//   - Variable access: input.amount, fetch.data.total
//   - Comparisons: ==, !=, <, >, <=, >=
//   - Boolean logic: &&, ||, !
//   - Membership: "value" in array (built-in operator)
//   - Custom functions: has(array, element), includes(array, element), length(x)
//
// Example expressions:
//
//	input.amount > 100
//	fetch.statusCode == 200 && length(fetch.data.items) > 0
//	has(input.tags, "urgent")
//
// The package also resolves {{dotted.path}} templates in step config
// values; see RenderTemplates.
//
// Note: The expr library uses "contains" as a string operator (for
// substring matching), so use "in" or "has()" for array membership.
package expression
