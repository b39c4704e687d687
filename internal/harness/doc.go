// Package harness runs event correlation scenarios end to end.
//
// A scenario deploys case definitions, parks plan items in wait states,
// delivers raw messages through the event registry and then checks the
// resulting case instances, plan items and subscriptions.
//
// # Scenario Format
//
//	name: start_and_resume
//	description: "An order event starts a case, a payment resumes it"
//	models: ../models
//	definitions:
//	  - id: order-case
//	    key: order
//	    starts_on: [orderPlaced]
//	    start_policy: storeAsUniqueReferenceId
//	waits:
//	  - plan_item: pi-1
//	    case_instance: case-0
//	    event: orderPaid
//	    correlation: { orderId: 7 }
//	deliveries:
//	  - channel: orders
//	    message: { type: orderPlaced, customerId: c-1, orderId: 7 }
//	assertions:
//	  - type: case_count
//	    definition: order-case
//	    count: 1
//
// The models path is resolved relative to the scenario file.
//
// # Assertion Types
//
//   - case_count: number of case instances of a definition
//   - case: fields of one case instance, reference_of computes the
//     expected reference from correlation parameters
//   - plan_item: state of one plan item
//   - subscription_count: number of stored subscriptions for an event type
//
// # Determinism
//
// Every run uses a fresh in-memory store, case ids case-1, case-2, ...
// and occurrence ids occ-1, occ-2, ... so traces are stable and can be
// compared against golden files.
package harness
