/*
Package group provides communication groups: sets of cooperating ranks that exchange bytes
through an isolated communication context, with a collective broadcast built on top.

A [Group] wraps an [Endpoint], which is the transport for exactly one context. Endpoints come
from one of the constructors in this package:

- [NewLocalWorld]: n ranks in one process, connected through in-memory mailboxes
- [NewLocalInter]: two disjoint in-process groups, where each side addresses the other
- [NewMesh] / [DialMesh]: one rank per process, connected by a full TCP mesh

# Contexts

[Group.Dup] is collective: every member must call it, in the same order relative to its other
Dup calls. The child gets a fresh context that shares membership with its parent, and no message
sent in one context is ever received in another. This is what lets independent broadcast
channels run over the same set of ranks without their messages crossing.

# Broadcast

[Group.Ibcast] issues a broadcast and returns a [*Request] without waiting. Operations on a
group are issued in program order, so a root may issue several broadcasts back to back before
waiting on any of them, and receivers match them up in the same order. [Group.Bcast] is Ibcast
followed by Wait.

On an inter-group (a producer group feeding a separate consumer group), the sending rank passes
[Root], the other members of the producing group pass [ProcNull], and members of the consuming
group pass the sender's rank within the producing group.

There is no timeout or cancellation. A broadcast whose peer never shows up blocks forever, in the
same way the collective itself would.
*/
package group
