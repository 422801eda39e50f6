// Package scheme binds a [group.Group] to the signature rules of a target
// chain. The ceremony engine is parameterised over a [Scheme]; the set of
// schemes is fixed at compile time and selected by [ID].
package scheme
