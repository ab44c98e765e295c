/*
Package subscription delivers invalidations to clients whose dependent
reads intersect a new commit. A client subscribes with the read set its
query produced and gets back a token and a channel; every commit whose
index writes intersect that read set marks the subscription stale and
pushes a non-blocking notification on the channel, the same fan-out
shape pkg/events used for cluster events, generalized from "broadcast
every event to every subscriber" to "broadcast only to the subscribers
whose read set this commit actually touches".

Engine implements committer.Notifier, so a committer can hold it behind
that narrow interface without importing this package directly.
*/
package subscription
