// Package service assembles one directory node. It constructs every
// component from configuration, injects the collaborators (no package
// globals), gates register and invoke through admission control, feeds
// invocation outcomes back into trust scoring, and supervises the
// background loops: health sweep, trust decay and flush, federation
// sync, and session maintenance. Stop joins all of them.
package service
