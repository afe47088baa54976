// Package protocol implements the stateful-session request interception
// layer. It recognizes session-management control messages embedded in
// ordinary request bodies, dispatches them to the session manager, and
// validates the session id header carried by every other request before the
// inference path is allowed to proceed.
//
// The wire contract is the hosting-container stateful-session convention:
// a reserved "requestType" body field with exactly two verbs, and the
// X-Amzn-SageMaker-*-Session-Id header family.
package protocol
