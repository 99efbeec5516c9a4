/*
Package loadbalancer splits frames into tiles and spreads the tiles over workers.

A [TiledLoadBalancer] is the strategy a renderer hands its frames to. Two strategies exist:

  - [Local] submits one task per tile to a [sched.Scheduler] in this process. [Local.Dispatch]
    returns a [*FrameTask] right away, for callers that want to overlap a frame with other work;
    [Local.RenderFrame] dispatches and waits.
  - [Distributed] divides each frame's tiles between the ranks of a [group.Group], renders its
    own share with a Local, and then exchanges finished tiles with every other rank over one
    [fabric.Fabric] per rank, so that every rank ends up with the whole frame.

Strategies are built by [New] from configuration and passed to whoever renders frames. There is
no process-wide default.

# Completion

Every tile goes through the same steps on a scheduler goroutine: allocate, render, return the
tile to the frame buffer, and only then mark it done. The task whose completion drains the frame
closes the frame's done channel, exactly once. So when RenderFrame returns (or the channel from
[FrameTask.Wait] is closed), every tile has already been returned and none will be returned
after.
*/
package loadbalancer
