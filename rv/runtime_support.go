package rv

// RuntimeHeader and RuntimeSource are the fixed, non-generated files
// the compiler driver writes into every scratch directory alongside
// the generated block source (spec.md §4.3 step 3's "explicit
// dependency on the runtime support library that supplies the CPU
// state type"). Their job is the CPU-state typedef and a handful of
// small bounds-checked load/store and trap-raising functions every
// emitted block calls, so the generated file itself stays a flat
// sequence of straight-line C.
const RuntimeHeader = `#ifndef RV_RUNTIME_H
#define RV_RUNTIME_H

#include <stdint.h>

/* Field order must match rv.CPUState exactly: this struct is read
 * and written across the Go/C boundary without any marshaling. */
typedef struct {
    uint32_t regs[32];
    uint32_t pc;
    uint32_t next_pc;
    uint32_t trapped;
    uint32_t cause;
    uint32_t fault_addr;
    uint8_t *mem_ptr;
    uint32_t mem_len;
} rv_cpu_t;

enum {
    RV_CAUSE_NONE = 0,
    RV_CAUSE_ILLEGAL_INSTRUCTION = 1,
    RV_CAUSE_LOAD_ACCESS_FAULT = 2,
    RV_CAUSE_STORE_ACCESS_FAULT = 3,
    RV_CAUSE_ECALL = 4,
    RV_CAUSE_EBREAK = 5
};

void rv_raise_illegal(rv_cpu_t *cpu, uint32_t pc);
void rv_raise_ecall(rv_cpu_t *cpu);
void rv_raise_ebreak(rv_cpu_t *cpu);
int rv_load8(rv_cpu_t *cpu, uint32_t addr, uint8_t *out);
int rv_load16(rv_cpu_t *cpu, uint32_t addr, uint16_t *out);
int rv_load32(rv_cpu_t *cpu, uint32_t addr, uint32_t *out);
int rv_store8(rv_cpu_t *cpu, uint32_t addr, uint8_t v);
int rv_store16(rv_cpu_t *cpu, uint32_t addr, uint16_t v);
int rv_store32(rv_cpu_t *cpu, uint32_t addr, uint32_t v);

#endif
`

const RuntimeSource = `#include "rv_runtime.h"
#include <string.h>

static void rv_fault(rv_cpu_t *cpu, uint32_t cause, uint32_t addr) {
    cpu->trapped = 1;
    cpu->cause = cause;
    cpu->fault_addr = addr;
}

void rv_raise_illegal(rv_cpu_t *cpu, uint32_t pc) {
    rv_fault(cpu, RV_CAUSE_ILLEGAL_INSTRUCTION, pc);
}

void rv_raise_ecall(rv_cpu_t *cpu) {
    rv_fault(cpu, RV_CAUSE_ECALL, cpu->pc);
}

void rv_raise_ebreak(rv_cpu_t *cpu) {
    rv_fault(cpu, RV_CAUSE_EBREAK, cpu->pc);
}

static int rv_bounds_ok(rv_cpu_t *cpu, uint32_t addr, uint32_t width) {
    return addr <= cpu->mem_len && width <= cpu->mem_len - addr;
}

int rv_load8(rv_cpu_t *cpu, uint32_t addr, uint8_t *out) {
    if (!rv_bounds_ok(cpu, addr, 1)) {
        rv_fault(cpu, RV_CAUSE_LOAD_ACCESS_FAULT, addr);
        return 0;
    }
    *out = cpu->mem_ptr[addr];
    return 1;
}

int rv_load16(rv_cpu_t *cpu, uint32_t addr, uint16_t *out) {
    if (!rv_bounds_ok(cpu, addr, 2)) {
        rv_fault(cpu, RV_CAUSE_LOAD_ACCESS_FAULT, addr);
        return 0;
    }
    memcpy(out, cpu->mem_ptr + addr, 2);
    return 1;
}

int rv_load32(rv_cpu_t *cpu, uint32_t addr, uint32_t *out) {
    if (!rv_bounds_ok(cpu, addr, 4)) {
        rv_fault(cpu, RV_CAUSE_LOAD_ACCESS_FAULT, addr);
        return 0;
    }
    memcpy(out, cpu->mem_ptr + addr, 4);
    return 1;
}

int rv_store8(rv_cpu_t *cpu, uint32_t addr, uint8_t v) {
    if (!rv_bounds_ok(cpu, addr, 1)) {
        rv_fault(cpu, RV_CAUSE_STORE_ACCESS_FAULT, addr);
        return 0;
    }
    cpu->mem_ptr[addr] = v;
    return 1;
}

int rv_store16(rv_cpu_t *cpu, uint32_t addr, uint16_t v) {
    if (!rv_bounds_ok(cpu, addr, 2)) {
        rv_fault(cpu, RV_CAUSE_STORE_ACCESS_FAULT, addr);
        return 0;
    }
    memcpy(cpu->mem_ptr + addr, &v, 2);
    return 1;
}

int rv_store32(rv_cpu_t *cpu, uint32_t addr, uint32_t v) {
    if (!rv_bounds_ok(cpu, addr, 4)) {
        rv_fault(cpu, RV_CAUSE_STORE_ACCESS_FAULT, addr);
        return 0;
    }
    memcpy(cpu->mem_ptr + addr, &v, 4);
    return 1;
}
`
