// Package ir provides the canonical value and model types for XSM.
//
// This package contains type definitions only. All other internal packages
// import ir; ir imports nothing internal. This keeps IR the foundational
// layer with no circular dependencies.
//
// Key design constraints:
//   - Payload values are a sealed set (IRNull, IRString, IRInt, IRFloat,
//     IRBool, IRArray, IRObject); NaN and infinities are rejected
//   - Canonical JSON follows RFC 8785 (UTF-16 key order, NFC strings,
//     ECMAScript number formatting)
//   - All JSON tags use snake_case
//   - Variant specs are static: one spec per variant name
package ir
