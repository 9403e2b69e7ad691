/*
Package session implements the kernel session lifecycle.

A Handle is the readiness signal of one started session: it is either not
ready yet, ready with an identifier, or failed with a recorded error. A failed
handle never becomes ready; every waiter observes the same error.

The Manager starts, restarts and shuts down sessions through a
ports.KernelTransport, serializing lifecycle operations per key with
reference-counted locks.
*/
package session
