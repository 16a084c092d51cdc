// Package gateway connects to kernels hosted by a Jupyter server or kernel
// gateway.
//
// Client wraps the kernel REST API (list, start, restart, shutdown) and
// Session speaks Jupyter messaging v5 over the kernel's channels websocket.
// A Session becomes ready after kernel_info_reply; an iopub
// status of "restarting" is published as a restart event and a closed
// socket disposes the session.
package gateway
