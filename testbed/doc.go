// Package testbed holds the conformance suite every jsbridge.Native must
// pass when driven through the js package.
//
// Engine tests call Run with a factory:
//
//	func TestMyEngine(t *testing.T) {
//	    testbed.Run(t, func(t *testing.T) jsbridge.Native { return newMyEngine(t) })
//	}
//
// Engines that implement LiveCounter are additionally checked for values
// and buffers outliving the host's references.
package testbed
