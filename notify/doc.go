// Package notify publishes event lifecycle transitions on subjects of
// the form events.<source>.<eventType>.<status>. Delivery is best
// effort: a failed publish is logged by the caller and never fails the
// transition that produced it.
package notify
