// Package il provides low-level IL definitions and decoding.
//
// This package models the expression trees produced by a binary analysis
// host's lifter. An IL function is a flat list of instructions, each of
// which is an expression tree. It supports:
//   - Operation kinds (CONST, REG, SET_REG, LOAD, STORE, arithmetic, compare, control flow)
//   - Architecture metadata (endianness, address size, stack pointer)
//   - Decoding functions from a JSON description
//
// Usage:
//
//	fn, err := il.LoadFunction("main.il.json")
//	for _, inst := range fn.Instructions {
//		fmt.Printf("Op: %v, Size: %d\n", inst.Op, inst.Size)
//	}
package il
