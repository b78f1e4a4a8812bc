// Package domain defines the types shared by the scheduler, the dispatcher and
// the adapters: task graph specs, runtime tasks, dispatcher outcomes, run
// results and the error taxonomy.
package domain
