/*
Package domain contains the core domain models and business logic for Quill.

It defines the entities of a notebook execution, such as Cells, Results and
Execution Events, together with the Cell Result Reducer that folds events into
the visible state of a cell. This package is kept pure and free of external
dependencies like I/O or persistence, following Hexagonal Architecture
principles.

# Key Entities

  - Cell: a unit of a notebook (code or markdown) with an optional Result.
  - Result: the reconstructed, renderable state of a cell's latest execution.
  - Output: one entry of a Result (stream, display_data, execute_result, error).
  - ExecutionEvent: one message of the ordered stream produced by a dispatch.

# Reducer

Apply, Complete and Fail are total, side-effect free functions. They never
mutate their input; every call returns a new Result value that shares no
mutable structure with the previous one.
*/
package domain
