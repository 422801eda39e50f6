// Package bjj implements [group.Group] over Baby Jubjub, the twisted
// Edwards curve a*x^2 + y^2 = 1 + d*x^2*y^2 (a = 168700, d = 168696)
// defined over the BN254 scalar field.
//
// Curve arithmetic comes from gnark-crypto. Scalars live in the prime
// order subgroup of size
//
//	2736030358979909402780800718157159386076813972158567259200215660948447373041
//
// and points are encoded in gnark's 32-byte compressed form. The group
// backs the Baby Jubjub signing scheme:
//
//	s := scheme.NewBabyJubjub(&bjj.BJJ{})
package bjj
