// Package vm drives the lifecycle of one virtual machine.
//
// A Controller owns a hypervisor.Machine, serializes every call to it onto
// the privileged executor, and reconciles asynchronous host notifications
// into a single State. Shutdown completion is published on a broadcast
// channel so any number of waiters observe it.
package vm
